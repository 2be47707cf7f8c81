package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Common flags
	configFile := flag.String("c", "sweep.yaml", "Sweep config file (YAML)")
	logFile := flag.String("log", "", "Log file path (rotating, stderr if empty)")

	// CLI-specific flags
	outputFile := flag.String("o", "", "Results output file, overrides config (CLI mode only)")

	// Server-specific flags
	isServer := flag.Bool("server", false, "Run in WebSocket server mode")
	port := flag.Int("p", 8080, "Port to listen on (Server mode only)")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  CLI Mode:    go run . -c sweep.yaml [options]")
		fmt.Fprintln(os.Stderr, "  Server Mode: go run . --server [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		})
	}

	if *isServer {
		runServer(*port)
	} else {
		runCLI(*configFile, *outputFile)
	}
}
