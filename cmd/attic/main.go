// cmd/attic/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"attic/client"
	"attic/internal/commit"
	"attic/internal/fork"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
	projectID string
)

var rootCmd = &cobra.Command{
	Use:   "attic",
	Short: "Attic is a revision store for creative-coding projects",
	Long: `Attic stores successive revisions of a project as an immutable,
content-addressed commit graph with named branch pointers. This CLI talks
to a running attic server.`,
}

func newClient() *client.Client {
	return client.New(serverURL, userID)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "attic server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("ATTIC_USER"), "acting user id")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "project id")

	var (
		branchName  string
		message     string
		description string
		parentID    string
	)
	commitCmd := &cobra.Command{
		Use:   "commit [file]",
		Short: "Store a file's content and commit it to a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}

			cl := newClient()
			hash, err := cl.PutBlob(projectID, string(content))
			if err != nil {
				return fmt.Errorf("storing content: %w", err)
			}

			c, err := cl.CreateCommit(projectID, commit.CreateRequest{
				Branch:      branchName,
				BlobHash:    hash,
				Message:     message,
				Description: description,
				ParentID:    parentID,
				Meta:        map[string]string{commit.MetaKeyOrigin: "cli"},
			})
			if err != nil {
				return fmt.Errorf("creating commit: %w", err)
			}

			color.Green("committed %s", c.ID[:12])
			fmt.Printf("  branch: %s\n  blob:   %s\n", c.Branch, c.BlobHash[:12])
			return nil
		},
	}
	commitCmd.Flags().StringVarP(&branchName, "branch", "b", "main", "branch to commit to")
	commitCmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	commitCmd.Flags().StringVar(&description, "description", "", "longer description")
	commitCmd.Flags().StringVar(&parentID, "parent", "", "explicit parent commit id")
	commitCmd.MarkFlagRequired("message")

	var historyBranches string
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show commit history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			commits, err := newClient().History(projectID, strings.Split(historyBranches, ","))
			if err != nil {
				return fmt.Errorf("fetching history: %w", err)
			}

			for _, c := range commits {
				depth := "?"
				if c.Depth != nil {
					depth = fmt.Sprint(*c.Depth)
				}
				color.Yellow("%s", c.ID[:12])
				fmt.Printf("  %s (%s, depth %s) by %s at %s\n",
					c.Message, c.Branch, depth, c.AuthorID,
					c.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	historyCmd.Flags().StringVarP(&historyBranches, "branches", "b", "main", "comma-separated branch names")

	branchesCmd := &cobra.Command{
		Use:   "branches",
		Short: "List the project's branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			branches, err := newClient().Branches(projectID)
			if err != nil {
				return fmt.Errorf("listing branches: %w", err)
			}

			for _, br := range branches {
				tip := "(no commits)"
				if br.LatestCommitID != "" {
					tip = br.LatestCommitID[:12]
				}
				marker := " "
				if br.Protected {
					marker = "*"
				}
				fmt.Printf("%s %-20s %s\n", marker, br.Name, tip)
			}
			return nil
		},
	}

	var (
		forkTarget string
		forkAll    bool
		forkDef    string
	)
	forkCmd := &cobra.Command{
		Use:   "fork",
		Short: "Fork the project's branch pointers into a new project",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := fork.ModeDefaultBranch
			if forkAll {
				mode = fork.ModeAllBranches
			}
			branches, err := newClient().Fork(projectID, fork.Request{
				TargetProjectID: forkTarget,
				Mode:            mode,
				DefaultBranch:   forkDef,
			})
			if err != nil {
				return fmt.Errorf("forking: %w", err)
			}

			color.Green("forked %d branch(es) into %s", len(branches), forkTarget)
			return nil
		},
	}
	forkCmd.Flags().StringVar(&forkTarget, "target", "", "target project id")
	forkCmd.Flags().BoolVar(&forkAll, "all", false, "copy all branches, not just the default")
	forkCmd.Flags().StringVar(&forkDef, "default-branch", "main", "source default branch name")
	forkCmd.MarkFlagRequired("target")

	catCmd := &cobra.Command{
		Use:   "cat [commit-id]",
		Short: "Print the content stored by a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient()
			c, token, err := cl.GetCommit(projectID, args[0])
			if err != nil {
				return fmt.Errorf("fetching commit: %w", err)
			}
			payload, err := cl.GetBlob(c.BlobHash, token)
			if err != nil {
				return fmt.Errorf("fetching content: %w", err)
			}
			os.Stdout.Write(payload)
			return nil
		},
	}

	rootCmd.AddCommand(commitCmd, historyCmd, branchesCmd, forkCmd, catCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}
