package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/talkback/internal/version"
)

func NewVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(rt.deps.Out, version.Full("talkback"))
			return err
		},
	}
}
