package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/catalog"
	"github.com/ericfisherdev/vendorvault/internal/application"
	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

var vendorsFile string

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "Validate and list the vendor catalog",
	Long: `Validate and list the vendor catalog.

The catalog is read from --file, then VENDORVAULT_VENDORS_FILE, and falls
back to the catalog compiled into the binary.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := vendorsFile
		if path == "" {
			path = cfg.VendorsFile
		}

		defs, err := catalog.Load(path)
		if err != nil {
			return err
		}
		// Building the registry applies the same checks serve does.
		schema, err := application.NewSchemaRegistry(defs)
		if err != nil {
			return err
		}
		defs, err = schema.Vendors()
		if err != nil {
			return err
		}

		return printVendors(cmd.OutOrStdout(), defs)
	},
}

func init() {
	vendorsCmd.Flags().StringVarP(&vendorsFile, "file", "f", "", "Path to a vendor catalog YAML file")
}

func printVendors(out io.Writer, defs []model.VendorDefinition) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHANDLER\tSHARED\tCAPABILITIES\tFIELDS")
	for _, def := range defs {
		caps := make([]string, 0, len(def.Capabilities))
		for _, c := range def.Capabilities {
			caps = append(caps, string(c))
		}
		fields := make([]string, 0, len(def.Fields))
		for _, f := range def.Fields {
			name := f.Name
			if f.Required {
				name += "*"
			}
			fields = append(fields, name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			def.ID, def.DisplayName, def.Handler, def.Shared,
			strings.Join(caps, ","), strings.Join(fields, ","))
	}
	return tw.Flush()
}
