package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v2"
)

// Version and BuildDate of the running binary, set at build time.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// MustParseConfig parses |cfg| from the combination of an optional YAML
// configuration file, environment bindings, and explicit flags, in that
// ascending order of precedence. The file is named by an explicit
// --config argument or $SKYD_CONFIG, and is otherwise searched for as
// |configName| in the working directory and under /etc/skyd.
//
// Config structs parsed this way must not carry go-flags default tags:
// flag parsing re-applies such defaults over values the file supplied.
// Seed defaults in the Config constructor, or apply them at use.
func MustParseConfig(parser *flags.Parser, cfg interface{}, configName string) {
	if path := configPath(configName); path != "" {
		var b, err = os.ReadFile(path)
		Must(err, "failed to read config file", "path", path)
		Must(yaml.UnmarshalStrict(b, cfg), "failed to parse config file", "path", path)
	}
	MustParseArgs(parser)
}

// configPath resolves the configuration file: an explicit --config
// argument, then $SKYD_CONFIG, then a search of the working directory
// and /etc/skyd. It returns "" if no file is named or found.
func configPath(configName string) string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		} else if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if path := os.Getenv("SKYD_CONFIG"); path != "" {
		return path
	}
	for _, prefix := range []string{".", "/etc/skyd"} {
		var path = filepath.Join(prefix, configName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		var flagErr, ok = err.(*flags.Error)
		if !ok {
			Must(err, "fatal error")
		}

		switch flagErr.Type {
		case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
			// These error types indicate a problem in the configuration object
			// |parser| was asked to parse (eg, a developer error rather than input error).
			panic(err)

		case flags.ErrCommandRequired:
			// Extend go-flag's "Please specify one command of: ... " output with the full usage.
			// This provides a nicer UX to users running the bare binary.
			os.Stderr.WriteString("\n")
			parser.WriteHelp(os.Stderr)
			fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
			os.Exit(1)

		case flags.ErrHelp:
			if parser.Options&flags.PrintErrors != 0 {
				// Help was already printed.
			} else {
				parser.WriteHelp(os.Stderr)
				fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
			}
			os.Exit(1)

		default:
			// Other error types indicate a problem of input. Generally, `go-flags`
			// already prints a helpful message and we can simply exit.
			os.Exit(1)
		}
	}
}

// AddPrintConfigCmd to the Parser. The "print-config" command helps users
// test whether their deployment is correctly configured, by exporting the
// combined runtime configuration.
func AddPrintConfigCmd(parser *flags.Parser, cfg interface{}) {
	parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from the configuration
file, environment variables, and flags, and then writes the configuration
to stdout in YAML format.
`, &printConfig{cfg: cfg})
}

type printConfig struct {
	cfg interface{}
}

func (p printConfig) Execute([]string) error {
	var b, err = yaml.Marshal(p.cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}
