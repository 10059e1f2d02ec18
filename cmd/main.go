package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dargueta/osfs"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/config"
	"github.com/dargueta/osfs/disk"
	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "osfs",
		Usage: "Inspect and manipulate a teaching file system image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{config.EnvVarPrefix + "_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "disk image file; the volume is kept in memory if omitted",
			},
			&cli.StringFlag{
				Name:  "preset",
				Usage: "predefined volume geometry, as listed by the presets command",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "logging level (trace, debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Create or wipe an image",
				Action: formatImage,
			},
			{
				Name:      "exec",
				Usage:     "Run one command and print the response as JSON",
				ArgsUsage: "COMMAND [ARGS...]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "as", Value: 1, Usage: "requester ID"},
				},
				Action: execCommand,
			},
			{
				Name:  "shell",
				Usage: "Read commands from standard input, one per line",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "as", Value: 1, Usage: "initial requester ID"},
				},
				Action: shell,
			},
			{
				Name:   "presets",
				Usage:  "List the predefined volume geometries as CSV",
				Action: listPresets,
			},
			{
				Name:   "stats",
				Usage:  "Print usage statistics for the volume",
				Action: printStats,
			},
			{
				Name:      "dump",
				Usage:     "Print bitmap, oplog, pages, or swaplog as CSV",
				ArgsUsage: "TABLE",
				Action:    dumpTable,
			},
			{
				Name:      "export",
				Usage:     "Write a compressed snapshot of the volume",
				ArgsUsage: "OUTPUT_FILE",
				Action:    exportImage,
			},
			{
				Name:      "import",
				Usage:     "Replace the volume with a compressed snapshot",
				ArgsUsage: "INPUT_FILE",
				Action:    importImage,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// openStack loads the configuration, applies the command line overrides, and
// opens the volume. The caller must close the stack.
func openStack(context *cli.Context) (*osfs.Stack, error) {
	c, err := config.Load(context.String("config"))
	if err != nil {
		return nil, err
	}
	if context.IsSet("image") {
		c.ImagePath = context.String("image")
	}
	if context.IsSet("preset") {
		c.Preset = context.String("preset")
		if err = c.ApplyPreset(); err != nil {
			return nil, err
		}
	}
	if context.IsSet("log-level") {
		c.LogLevel = context.String("log-level")
	}

	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	return osfs.New(c)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// withStack runs `action` on an open stack and closes it afterwards, reporting
// whichever error came first.
func withStack(context *cli.Context, action func(*osfs.Stack) error) error {
	stack, err := openStack(context)
	if err != nil {
		return err
	}

	err = action(stack)
	closeErr := stack.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func formatImage(context *cli.Context) error {
	return withStack(context, func(stack *osfs.Stack) error {
		if err := stack.Format(); err != nil {
			return err
		}
		return printJSON(stack.FileSystem().Stats())
	})
}

func execCommand(context *cli.Context) error {
	if context.NArg() == 0 {
		return cli.Exit("a command is required", 2)
	}

	request, ok, err := parseLine(strings.Join(context.Args().Slice(), " "))
	if err != nil {
		return err
	}
	if !ok {
		return cli.Exit("a command is required", 2)
	}

	return withStack(context, func(stack *osfs.Stack) error {
		response := stack.Handle(request, common.Owner(context.Int("as")))
		if err := printJSON(response); err != nil {
			return err
		}
		if !response.Success {
			return cli.Exit("", 1)
		}
		return nil
	})
}

func shell(context *cli.Context) error {
	return withStack(context, func(stack *osfs.Stack) error {
		return runShell(stack, os.Stdin, os.Stdout, common.Owner(context.Int("as")))
	})
}

func printStats(context *cli.Context) error {
	return withStack(context, func(stack *osfs.Stack) error {
		return printJSON(map[string]any{
			"file_system": stack.FileSystem().Stats(),
			"disk":        stack.Store().Info(),
			"cache":       stack.Cache().Stats(),
		})
	})
}

func listPresets(context *cli.Context) error {
	var rows []disk.Preset
	for _, slug := range disk.PresetSlugs() {
		preset, err := disk.GetPreset(slug)
		if err != nil {
			return err
		}
		rows = append(rows, preset)
	}
	return gocsv.Marshal(rows, os.Stdout)
}

var dumpCommands = map[string]osfs.Command{
	"bitmap":  osfs.CmdBitmap,
	"oplog":   osfs.CmdOperationLog,
	"pages":   osfs.CmdCacheStatus,
	"swaplog": osfs.CmdSwapLog,
}

func dumpTable(context *cli.Context) error {
	command, ok := dumpCommands[context.Args().First()]
	if !ok {
		return cli.Exit(
			fmt.Sprintf("unknown table %q; expected bitmap, oplog, pages, or swaplog",
				context.Args().First()),
			2)
	}

	return withStack(context, func(stack *osfs.Stack) error {
		response := stack.Handle(osfs.Request{Command: command}, 0)
		if !response.Success {
			return fmt.Errorf("%s: %s", response.Kind, response.Error)
		}
		return gocsv.Marshal(response.Data, os.Stdout)
	})
}

func exportImage(context *cli.Context) error {
	outputPath := context.Args().First()
	if outputPath == "" {
		return cli.Exit("an output file is required", 2)
	}

	return withStack(context, func(stack *osfs.Stack) error {
		output, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer output.Close()

		size, err := stack.Export(output)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"path": outputPath, "bytes": size}).Info("snapshot written")
		return output.Close()
	})
}

func importImage(context *cli.Context) error {
	inputPath := context.Args().First()
	if inputPath == "" {
		return cli.Exit("an input file is required", 2)
	}

	return withStack(context, func(stack *osfs.Stack) error {
		input, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer input.Close()

		if err = stack.Import(input); err != nil {
			return err
		}
		return printJSON(stack.FileSystem().Stats())
	})
}
