package commands

import (
	"github.com/fieldmesh/fieldmesh/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for FieldMesh
var RootCmd = &cobra.Command{
	Use:              "fieldmesh",
	Short:            "fieldmesh tactical mesh agent",
	TraverseChildren: true,
}
