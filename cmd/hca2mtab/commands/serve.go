// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/gemaraproj/hca2mtab/internal/magetab"
	"github.com/gemaraproj/hca2mtab/internal/tool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the converter as an MCP tool over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing the
convert_hca_bundles tool, which translates inline bundle documents and returns
the SDRF and IDF texts instead of writing files.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return out.Error("Invalid configuration", err.Error(), nil)
	}
	engine, err := magetab.NewEngine(cfg, logger)
	if err != nil {
		return out.Error("Invalid mapping rules", err.Error(), nil)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "hca2mtab", Version: version}, nil)
	tool.NewConverter(engine, logger).Register(server)

	logger.Info("serving MCP over stdio")
	if err := server.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil {
		return out.Error("MCP server stopped", err.Error(), nil)
	}
	return nil
}
