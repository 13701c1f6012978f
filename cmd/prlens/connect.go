package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"prlens-backend/internal/github"
	"prlens-backend/internal/types"
)

var (
	connectUser  string
	connectToken string
)

var connectCmd = &cobra.Command{
	Use:   "connect <owner/repo>",
	Short: "Register a repository and a GitHub token for a user",
	Long: `Store a GitHub access token for a user and register one of their
repositories so reviews can be triggered for it. The token defaults to
GITHUB_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		owner, name, ok := (&types.Repository{FullName: args[0]}).SplitFullName()
		if !ok {
			return errors.New("repository must be given as owner/name")
		}
		token := strings.TrimSpace(connectToken)
		if token == "" {
			token = cfg.GitHubToken
		}
		if token == "" {
			return errors.New("no GitHub token: pass --token or set GITHUB_TOKEN")
		}

		gh := github.NewGitHubAPIClient(cfg.GitHubAPIURL)
		login, err := gh.AuthenticatedLogin(ctx, token)
		if err != nil {
			return err
		}
		ui.VerboseLog("token belongs to %s", login)

		repo, err := gh.FetchRepository(ctx, token, owner, name)
		if err != nil {
			return err
		}

		database, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := st.SaveGitHubToken(ctx, connectUser, token, login); err != nil {
			return err
		}
		repo.UserID = connectUser
		if err := st.UpsertRepository(ctx, repo); err != nil {
			return err
		}

		ui.Success("Connected %s for user %s as %s", repo.FullName, connectUser, login)
		ui.Info("Repository id: %s", repo.ID)
		return nil
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectUser, "user", "", "User id that owns the repository")
	connectCmd.Flags().StringVar(&connectToken, "token", "", "GitHub access token (default GITHUB_TOKEN)")
	_ = connectCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(connectCmd)
}
