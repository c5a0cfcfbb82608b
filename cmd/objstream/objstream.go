// Package objstreamcmder
package objstreamcmder

import (
	"github.com/spf13/cobra"

	generatecmder "github.com/objstreamhq/objstream/cmd/objstream/generate"
	servecmder "github.com/objstreamhq/objstream/cmd/objstream/serve"
	versioncmder "github.com/objstreamhq/objstream/cmd/version"
)

const objstreamLongDesc string = `Objstream assembles schema-validated objects from streaming model output.

Run services using:
  objstream serve         Run the HTTP server
  objstream generate      Generate one object from the command line`

const objstreamShortDesc string = "Objstream - Streaming Object Assembly"

func NewObjstreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objstream",
		Short: objstreamShortDesc,
		Long:  objstreamLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().StringP("config", "c", "", "Path to config.toml")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(generatecmder.NewGenerateCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
