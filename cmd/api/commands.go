package main

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/fatih/color"
    "github.com/olekukonko/tablewriter"
    "github.com/spf13/cobra"

    "github.com/hamzaKhattat/contact-center-api/internal/config"
    "github.com/hamzaKhattat/contact-center-api/internal/db"
    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/internal/store"
)

var (
    green  = color.New(color.FgGreen).SprintFunc()
    red    = color.New(color.FgRed).SprintFunc()
    yellow = color.New(color.FgYellow).SprintFunc()
)

// openDatabase connects for one-shot CLI commands.
func openDatabase(cfg *config.Config) (*db.DB, error) {
    if cfg.Database.Disabled {
        return nil, fmt.Errorf("database is disabled (DISABLE_DB=true)")
    }
    return db.New(db.Config{
        Driver:          "mysql",
        DSN:             cfg.Database.URL,
        MaxOpenConns:    2,
        MaxIdleConns:    1,
        ConnMaxLifetime: time.Minute,
        RetryAttempts:   1,
        RetryDelay:      time.Second,
    })
}

func createMigrateCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "migrate",
        Short: "Apply database migrations",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := setup()
            if err != nil {
                return err
            }

            database, err := openDatabase(cfg)
            if err != nil {
                return err
            }
            defer database.Close()

            if err := db.RunMigrations(database.DB); err != nil {
                return err
            }

            fmt.Printf("%s Migrations applied\n", green("✓"))
            return nil
        },
    }
}

func createUserCommands() *cobra.Command {
    userCmd := &cobra.Command{
        Use:   "user",
        Short: "Manage API users",
    }
    userCmd.AddCommand(createUserCreateCommand())
    return userCmd
}

func createUserCreateCommand() *cobra.Command {
    var (
        email     string
        fullName  string
        superuser bool
    )

    cmd := &cobra.Command{
        Use:   "create <username>",
        Short: "Create an API user",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := setup()
            if err != nil {
                return err
            }

            database, err := openDatabase(cfg)
            if err != nil {
                return err
            }
            defer database.Close()

            password, err := promptPassword()
            if err != nil {
                return err
            }

            users := store.NewUserStore(database.DB)
            user, err := users.Create(context.Background(), args[0], password, email, fullName, superuser)
            if err != nil {
                return fmt.Errorf("failed to create user: %v", err)
            }

            fmt.Printf("%s User '%s' created (id=%d)\n", green("✓"), user.Username, user.ID)
            return nil
        },
    }

    cmd.Flags().StringVar(&email, "email", "", "User email")
    cmd.Flags().StringVar(&fullName, "full-name", "", "Full name")
    cmd.Flags().BoolVar(&superuser, "superuser", false, "Grant superuser")

    return cmd
}

func promptPassword() (string, error) {
    fmt.Print("Password: ")
    reader := bufio.NewReader(os.Stdin)
    line, err := reader.ReadString('\n')
    if err != nil {
        return "", err
    }
    fmt.Println()
    return strings.TrimSpace(line), nil
}

func createCallsCommands() *cobra.Command {
    callsCmd := &cobra.Command{
        Use:   "calls",
        Short: "Inspect call records",
    }
    callsCmd.AddCommand(createCallsListCommand())
    return callsCmd
}

func createCallsListCommand() *cobra.Command {
    var limit int

    cmd := &cobra.Command{
        Use:   "list",
        Short: "List recent calls",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := setup()
            if err != nil {
                return err
            }

            database, err := openDatabase(cfg)
            if err != nil {
                return err
            }
            defer database.Close()

            calls, err := store.NewCallStore(database.DB).List(context.Background(), limit)
            if err != nil {
                return fmt.Errorf("failed to list calls: %v", err)
            }

            if len(calls) == 0 {
                fmt.Println("No calls found")
                return nil
            }

            table := tablewriter.NewWriter(os.Stdout)
            table.SetHeader([]string{"Call ID", "Number", "Status", "Channel", "Created", "Duration"})
            table.SetBorder(false)
            table.SetAutoWrapText(false)

            for _, c := range calls {
                duration := "-"
                if c.Duration != nil {
                    duration = fmt.Sprintf("%ds", *c.Duration)
                }

                table.Append([]string{
                    c.CallID,
                    c.PhoneNumber,
                    colorStatus(c.Status),
                    c.Channel,
                    c.CreatedAt.Format(time.RFC3339),
                    duration,
                })
            }

            table.Render()
            return nil
        },
    }

    cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")

    return cmd
}

func colorStatus(status models.CallStatus) string {
    switch status {
    case models.CallStatusCompleted, models.CallStatusAnswered:
        return green(string(status))
    case models.CallStatusFailed, models.CallStatusBusy, models.CallStatusNoAnswer:
        return red(string(status))
    default:
        return yellow(string(status))
    }
}
