// skyd is the database daemon and its operational tool belt. The serve
// command runs the server. The remaining commands either operate on a
// stopped data directory (compact, repair, inspect, backup, restore) or
// query a running server (status).
package main

import (
	"path/filepath"
	"sort"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/codecs"
	"github.com/rizalgowandy/skytable/journal"
	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
)

const configFilename = "skyd.yaml"

// Config is the top-level configuration object of skyd. It is parsed
// from an optional skyd.yaml file, SKYD_* environment variables, and
// flags, in ascending order of precedence.
var Config = new(struct {
	Server struct {
		mbp.ServiceConfig `yaml:",inline"`
		Iface             string `long:"iface" env:"IFACE" yaml:"iface" description:"Interface to bind the service socket to (default all interfaces)"`
		Port              uint16 `long:"port" env:"PORT" yaml:"port" description:"Service port for query and HTTP requests (default 2003)"`
		MaxConnections    int    `long:"max-connections" env:"MAX_CONNECTIONS" yaml:"max_connections" description:"Concurrent client connection limit (default unlimited)"`
		TLSCert           string `long:"tls-cert" env:"TLS_CERT" yaml:"tls_cert" description:"Path of a PEM server certificate. TLS is disabled if not set"`
		TLSKey            string `long:"tls-key" env:"TLS_KEY" yaml:"tls_key" description:"Path of the PEM private key of the server certificate"`
	} `group:"Server" namespace:"server" env-namespace:"SKYD_SERVER" yaml:"server"`

	Auth struct {
		RootPassword string `long:"root-password" env:"ROOT_PASSWORD" yaml:"root_password" description:"Password which creates the root account on first boot"`
	} `group:"Auth" namespace:"auth" env-namespace:"SKYD_AUTH" yaml:"auth"`

	Data struct {
		Dir         string `long:"dir" env:"DIR" yaml:"dir" description:"Data directory (default ./data)"`
		Compression string `long:"compression" env:"COMPRESSION" yaml:"compression" choice:"none" choice:"gzip" choice:"snappy" choice:"zstd" description:"Compression codec of base images (default snappy)"`
		Degraded    bool   `long:"degraded" env:"DEGRADED" yaml:"degraded" description:"Recover read-only at the last good record when playback finds corruption, instead of failing"`
		QueueDepth  int    `long:"queue-depth" env:"QUEUE_DEPTH" yaml:"queue_depth" description:"Commit submission queue depth per store (default 128)"`
	} `group:"Data" namespace:"data" env-namespace:"SKYD_DATA" yaml:"data"`

	Engine struct {
		Workers        int          `long:"workers" env:"WORKERS" yaml:"workers" description:"Background worker count (default 2)"`
		VacuumInterval mbp.Duration `long:"vacuum-interval" env:"VACUUM_INTERVAL" yaml:"vacuum_interval" description:"Idle maintenance cadence (default 5m)"`
		CompactEvery   mbp.Duration `long:"compact-every" env:"COMPACT_EVERY" yaml:"compact_every" description:"Minimum spacing of compaction checks per store (default 10s)"`
		CompactBurst   int          `long:"compact-burst" env:"COMPACT_BURST" yaml:"compact_burst" description:"Burst of compaction checks admitted at once (default 8)"`
	} `group:"Engine" namespace:"engine" env-namespace:"SKYD_ENGINE" yaml:"engine"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"SKYD_LOG" yaml:"log"`

	ConfigPath string `long:"config" env:"SKYD_CONFIG" yaml:"-" description:"Path of an optional YAML configuration file"`
})

var (
	parser      = flags.NewParser(Config, flags.Default)
	cmdRegistry = mbp.NewCommandRegistry()
)

func main() {
	parser.LongDescription = `skyd is the database daemon and its operational tool belt.

See --help pages of each sub-command for documentation and usage examples.
Optionally configure skyd with a '` + configFilename + `' file in the current working
directory or under /etc/skyd/, or name one with --config or $SKYD_CONFIG.
Use the 'print-config' sub-command to inspect the effective configuration.
`
	mbp.AddPrintConfigCmd(parser, Config)
	mbp.Must(cmdRegistry.AddCommands("", parser.Command, true), "failed to add sub-commands")
	mbp.MustParseConfig(parser, Config, configFilename)
}

// startup initializes logging ahead of a sub-command's work.
func startup() {
	mbp.InitLog(Config.Log)
}

func dataDir() string {
	if Config.Data.Dir != "" {
		return Config.Data.Dir
	}
	return "data"
}

func serverPort() uint16 {
	if Config.Server.Port != 0 {
		return Config.Server.Port
	}
	return 2003
}

// journalOptions maps the Data configuration group onto store options.
func journalOptions() (journal.Options, error) {
	var codec = codecs.Snappy
	if Config.Data.Compression != "" {
		var err error
		if codec, err = codecs.ParseCodec(Config.Data.Compression); err != nil {
			return journal.Options{}, err
		}
	}
	return journal.Options{
		Codec:      codec,
		DegradedOK: Config.Data.Degraded,
		QueueDepth: Config.Data.QueueDepth,
	}, nil
}

// storeDir names one store directory of a data directory.
type storeDir struct {
	// Name is "catalog", or models/<uuid> of a model store.
	Name string
	Dir  string
}

// storeDirs lists the store directories under |dir|: the catalog store,
// and one per model. It inspects the filesystem only, and is usable on
// directories too corrupt to recover.
func storeDirs(fs afero.Fs, dir string) ([]storeDir, error) {
	var catalogDir = filepath.Join(dir, "catalog")
	if ok, err := afero.DirExists(fs, catalogDir); err != nil {
		return nil, err
	} else if !ok {
		return nil, errors.Errorf("%s does not look like a data directory (no catalog store)", dir)
	}
	var out = []storeDir{{Name: "catalog", Dir: catalogDir}}

	var modelsDir = filepath.Join(dir, "models")
	var entries, err = afero.ReadDir(fs, modelsDir)
	if err != nil {
		if ok, _ := afero.DirExists(fs, modelsDir); !ok {
			return out, nil
		}
		return nil, err
	}
	var models []storeDir
	for _, fi := range entries {
		if !fi.IsDir() {
			continue
		}
		models = append(models, storeDir{
			Name: filepath.Join("models", fi.Name()),
			Dir:  filepath.Join(modelsDir, fi.Name()),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return append(out, models...), nil
}
