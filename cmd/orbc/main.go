// Command orbc compiles orbc source into bytecode and runs it in a virtual machine.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"

	"github.com/orbc-lang/orbc/compiler"
	"github.com/orbc-lang/orbc/repl"
	"github.com/orbc-lang/orbc/vm"
)

const version = "0.1.0"

// printUsage displays custom usage information
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `orbc v%s

USAGE:
    %s [OPTIONS]

DESCRIPTION:
    orbc compiles source into bytecode and runs it in a virtual machine.
    Without any flags, it starts an interactive REPL (Read-Eval-Print-Loop).

OPTIONS:
    -f, --file <path>       Execute a script file
    -e, --eval <code>       Evaluate an expression and print the result
    -d, --debug             Enable debug mode with more verbose output
    -v, --version           Show version information
    -h, --help              Show this help message

EXAMPLES:
    # Start interactive REPL
    %s

    # Execute a script file
    %s -f script.orb
    %s --file script.orb

    # Evaluate an expression
    %s -e "2 + 3 * 4"

    # Execute with debug mode
    %s -f script.orb -d

`, version, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage

	fileFlag := flag.String("file", "", "Execute a script file")
	evalFlag := flag.String("eval", "", "Evaluate an expression and print the result")
	debugFlag := flag.Bool("debug", false, "Enable debug mode with more verbose output")
	versionFlag := flag.Bool("version", false, "Show version information")

	flag.StringVar(fileFlag, "f", "", "Execute a script file")
	flag.StringVar(evalFlag, "e", "", "Evaluate an expression and print the result")
	flag.BoolVar(debugFlag, "d", false, "Enable debug mode with more verbose output")
	flag.BoolVar(versionFlag, "v", false, "Show version information")

	flag.Parse()

	if *debugFlag {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *versionFlag {
		fmt.Printf("orbc v%s\n", version)
		return
	}

	if *fileFlag != "" {
		executeFile(*fileFlag, *debugFlag)
		return
	}

	if *evalFlag != "" {
		evaluateExpression(*evalFlag, *debugFlag)
		return
	}

	username := "unknown"
	if usr, err := user.Current(); err == nil {
		username = usr.Username
	}

	repl.Start(username, repl.Options{Debug: *debugFlag})
}

// executeFile reads, compiles and runs a script file, calling its `main`
// entrypoint (see spec.md §6.1/§6.3 for the embedding and exit contract).
func executeFile(filename string, debug bool) {
	cleaned := filepath.Clean(filename)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		slog.Error("resolving file path", "error", err)
		os.Exit(1)
	}
	if debug {
		slog.Debug("executing file", "path", absolute)
	}

	//nolint:gosec // the path comes from a trusted CLI flag, not untrusted input
	content, err := os.ReadFile(absolute)
	if err != nil {
		slog.Error("reading file", "error", err)
		os.Exit(1)
	}

	run(string(content), debug)
}

// evaluateExpression compiles and runs a one-line `-e` argument the same
// way the REPL does: wrapped as the body of a throwaway entrypoint so a
// bare expression auto-returns its value.
func evaluateExpression(expr string, debug bool) {
	run(fmt.Sprintf("function main() return %s end", expr), debug)
}

func run(source string, debug bool) {
	program, err := compiler.Compile(source)
	if err != nil {
		slog.Error("compilation failed", "error", err)
		os.Exit(1)
	}

	result, err := vm.New().Execute(program, nil, "")
	if err != nil {
		slog.Error("vm execution failed", "error", err)
		os.Exit(1)
	}

	if result == nil {
		return
	}
	if debug {
		slog.Debug("result", "type", result.Type())
	}
	fmt.Println(result.Inspect())
}
