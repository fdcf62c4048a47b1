package main

import (
	"flag"
	"fmt"
	"os"
)

var argv struct {
	verbose bool
}

func init() {
	flag.BoolVar(&argv.verbose, `v`, false, `enable debug logging`)
}

func main() {
	flag.Parse()

	minLevel := LogInfo
	if argv.verbose {
		minLevel = LogDebug
	}
	lg := NewLogger(os.Stderr, minLevel)

	args := flag.Args()
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, `usage: webserv [config_file]`)
		os.Exit(1)
	}

	configPath := `default.conf`
	if len(args) == 1 {
		configPath = args[0]
	} else {
		lg.Warningf(`no config file specified, using default.conf`)
	}

	cfg, err := ParseConfigFile(configPath)
	if err != nil {
		lg.Errorf(`%v`, err)
		os.Exit(1)
	}

	sig := SetupSignals()
	server := NewServer(cfg, lg, sig)

	if err := server.Start(); err != nil {
		lg.Errorf(`startup: %v`, err)
		os.Exit(1)
	}

	lg.Infof(`webserv started, %d server(s)`, len(cfg.Servers))

	if err := server.Run(); err != nil {
		lg.Errorf(`runtime: %v`, err)
		os.Exit(1)
	}

	lg.Infof(`webserv stopped`)
}
