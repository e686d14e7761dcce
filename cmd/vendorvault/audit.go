package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/vendorvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

var auditFilter model.AuditFilter

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent credential audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := sqliteadapter.NewDB(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := sqliteadapter.NewAuditRepo(db).List(cmd.Context(), auditFilter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTOR\tVENDOR\tSCOPE\tACTION\tOUTCOME\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format(time.DateTime), e.Actor, e.VendorID,
				e.Scope, e.Action, e.Outcome, e.Detail)
		}
		return tw.Flush()
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditFilter.VendorID, "vendor", "", "Only entries for this vendor id")
	auditCmd.Flags().StringVar(&auditFilter.TenantID, "tenant", "", "Only entries for this tenant id")
	auditCmd.Flags().IntVarP(&auditFilter.Limit, "limit", "n", 50, "Maximum number of entries")
}
