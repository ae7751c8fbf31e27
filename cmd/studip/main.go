package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/fknorr/studip-client/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// newApp resolves the sync directory and wires the application.
// The caller must defer a.Close().
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	dir, _ := cmd.Flags().GetString("dir")
	syncDir, err := app.ResolveSyncDir(dir)
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(syncDir, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing %s: %w", syncDir, err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "studip",
	Short: "Stud.IP course file synchronization client",
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Synchronize course and file metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "update")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Update(cmd.Context())
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download missing file contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "fetch")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.FetchFiles(cmd.Context())
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout [VIEW]",
	Short: "Materialize views as directory trees",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "checkout")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return a.Checkout(name)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update metadata, fetch files and check out all views",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "sync")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SyncAll(cmd.Context())
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete the metadata cache",
	Long: "Delete the metadata cache of a sync directory. Downloaded files and\n" +
		"checked-out trees are kept; the next update rebuilds the metadata.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		syncDir, err := app.ResolveSyncDir(dir)
		if err != nil {
			return err
		}
		if err := app.ClearCache(syncDir); err != nil {
			return err
		}
		fmt.Printf("Cache of %s cleared\n", syncDir)
		return nil
	},
}

// view command
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Manage views",
}

var viewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured views",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "view list")
		if err != nil {
			return err
		}
		defer a.Close()

		views, err := a.ListViews()
		if err != nil {
			return err
		}
		if len(views) == 0 {
			fmt.Println("No views configured.")
			return nil
		}
		for _, v := range views {
			base := v.Base
			if base == "" {
				base = "."
			}
			fmt.Printf("%s\t%s\t%s\t%s/%s\n", v.Name, base, v.Format, v.Charset, v.Escape)
		}
		return nil
	},
}

var viewAddCmd = &cobra.Command{
	Use:   "add NAME FORMAT",
	Short: "Add a view",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, _ := cmd.Flags().GetString("base")
		escape, _ := cmd.Flags().GetString("escape")
		charset, _ := cmd.Flags().GetString("charset")

		a, err := newApp(cmd, "view add")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddView(args[0], args[1], base, escape, charset); err != nil {
			return err
		}
		fmt.Printf("View %s added\n", args[0])
		return nil
	},
}

var viewRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a view and its directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "view rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveView(args[0]); err != nil {
			return err
		}
		fmt.Printf("View %s removed\n", args[0])
		return nil
	},
}

var viewResetDeletedCmd = &cobra.Command{
	Use:   "reset-deleted [VIEW]",
	Short: "Restore files deleted from view trees on next checkout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "view reset-deleted")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return a.ResetDeleted(name)
	},
}

// course command
var courseCmd = &cobra.Command{
	Use:   "course",
	Short: "Manage courses",
}

var courseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "course list")
		if err != nil {
			return err
		}
		defer a.Close()

		courses, err := a.ListCourses()
		if err != nil {
			return err
		}
		if len(courses) == 0 {
			fmt.Println("No courses cached. Run update first.")
			return nil
		}
		for _, c := range courses {
			fmt.Printf("%s\t%s\t%s (%s)\n", c.ID, c.Sync, c.Name, c.Type)
		}
		return nil
	},
}

var courseSyncCmd = &cobra.Command{
	Use:   "sync ID MODE",
	Short: "Change a course's sync mode (none, metadata or full)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "course sync")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetCourseSync(args[0], args[1])
	},
}

var courseSetNameCmd = &cobra.Command{
	Use:   "set-name ID NAME",
	Short: "Override a course's name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "course set-name")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetCourseName(args[0], args[1])
	},
}

var courseSetAbbrevCmd = &cobra.Command{
	Use:   "set-abbrev ID ABBREV",
	Short: "Override a course's name abbreviation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "course set-abbrev")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetCourseNameAbbrev(args[0], args[1])
	},
}

var courseSetTypeCmd = &cobra.Command{
	Use:   "set-type ID TYPE",
	Short: "Override a course's type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "course set-type")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetCourseType(args[0], args[1])
	},
}

var courseSetTabbrevCmd = &cobra.Command{
	Use:   "set-tabbrev ID ABBREV",
	Short: "Override a course's type abbreviation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "course set-tabbrev")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetCourseTypeAbbrev(args[0], args[1])
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("dir", "d", "",
		"sync directory (defaults to the most recently used one)")

	viewAddCmd.Flags().String("base", "", "subtree of the sync directory the view lives in")
	viewAddCmd.Flags().String("escape", "similar", "escape mode: similar, typeable, camelcase or snakecase")
	viewAddCmd.Flags().String("charset", "unicode", "charset: unicode, ascii or identifier")

	viewCmd.AddCommand(viewListCmd, viewAddCmd, viewRmCmd, viewResetDeletedCmd)
	courseCmd.AddCommand(courseListCmd, courseSyncCmd, courseSetNameCmd,
		courseSetAbbrevCmd, courseSetTypeCmd, courseSetTabbrevCmd)
	rootCmd.AddCommand(updateCmd, fetchCmd, checkoutCmd, syncCmd, clearCacheCmd,
		viewCmd, courseCmd)
}
