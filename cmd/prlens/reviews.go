package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"prlens-backend/internal/output"
	"prlens-backend/internal/store"
)

var (
	reviewsUser  string
	reviewsRepo  string
	reviewsLimit int
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List a user's reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		reviews, err := st.ListReviews(ctx, store.ReviewFilter{
			UserID:       reviewsUser,
			RepositoryID: reviewsRepo,
			Limit:        reviewsLimit,
		})
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			ui.Info("No reviews found")
			return nil
		}

		table := ui.Table([]string{"ID", "PR", "Title", "Status", "Risk", "Model", "Created"})
		for _, r := range reviews {
			_ = table.Append([]string{
				r.ID,
				"#" + strconv.Itoa(r.PRNumber),
				r.PRTitle,
				output.StatusColor(r.Status),
				output.RiskColor(r.RiskScore),
				r.AIModel,
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}

		for _, r := range reviews {
			if r.Error != "" {
				ui.VerboseLog("%s: %s", r.ID, r.Error)
			}
		}
		return nil
	},
}

func init() {
	reviewsCmd.Flags().StringVar(&reviewsUser, "user", "", "User id")
	reviewsCmd.Flags().StringVar(&reviewsRepo, "repo", "", "Only reviews of this repository id")
	reviewsCmd.Flags().IntVar(&reviewsLimit, "limit", store.DefaultListLimit, "Maximum number of reviews")
	_ = reviewsCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(reviewsCmd)
}
