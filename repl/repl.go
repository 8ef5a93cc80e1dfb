// Package repl implements the Read-Eval-Print Loop for the orbc language.
//
// The REPL provides an interactive interface for entering source, compiling
// it, running it in a fresh VM, and seeing the result immediately. It uses
// the Charm libraries (Bubbletea, Bubbles, and Lipgloss) to create a modern
// terminal interface with syntax highlighting and command history.
//
// Key features:
//   - Interactive command input and execution
//   - Command history tracking
//   - Styled output with different colors for results and errors
//   - Multiline input for statements spanning several lines
//
// The main entry point is the Start function, which initializes and runs
// the REPL with the given username.
package repl

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/orbc-lang/orbc/compiler"
	"github.com/orbc-lang/orbc/lexer"
	"github.com/orbc-lang/orbc/token"
	"github.com/orbc-lang/orbc/vm"
)

const (
	// Prompt is the default prompt for the REPL
	Prompt = ">> "

	// ContPrompt is the continuation prompt used in multiline input mode within the REPL.
	ContPrompt = ".. "

	// replEntrypoint is the function name each REPL submission is compiled and run under.
	// The wrapper is compiled as ordinary source, so the name must lex as an identifier.
	// User input always becomes this function's body and so cannot declare a
	// top-level function of the same name.
	replEntrypoint = "__repl"
)

// Options contains configuration options for the REPL
type Options struct {
	NoColor bool // Disable syntax highlighting and colored output
	Debug   bool // Enable debug mode with more verbose output
}

// Start initializes and runs the REPL with the given username and options.
// It creates a new bubbletea program with an initial model and runs it.
// The username is displayed in the welcome message of the REPL.
// If an error occurs while running the program, it is printed to the console.
func Start(username string, options Options) {
	p := tea.NewProgram(initialModel(username, options))
	if _, err := p.Run(); err != nil {
		slog.Error("repl terminated", "error", err)
	}
}

// Styling
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	// Error styles
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))

	parseErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF5F87")).
				Bold(true)

	runtimeErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF8700")).
				Bold(true)

	errorTipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAF00"))

	historyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))

	// Syntax highlighting styles
	keywordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF79C6")).
			Bold(true)

	identifierStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#F8F8F2"))

	literalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	operatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	delimiterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#BD93F9"))

	stringStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))
)

// ErrorType represents the type of error that occurred
type ErrorType int

const (
	// NoError indicates that no error occurred, typically used as a default or initial value for error handling.
	NoError ErrorType = iota

	// ParseError indicates an error that occurred during the parsing or compiling phase.
	ParseError

	// RuntimeError signifies an error that occurs while running compiled bytecode in the VM.
	RuntimeError
)

// Custom messages for async evaluation
type evalResultMsg struct {
	output    string
	isError   bool
	errorType ErrorType
	elapsed   time.Duration
}

// The model represents the state of the application
type model struct {
	textInput       textinput.Model
	history         []historyEntry
	username        string
	evaluating      bool
	currentInput    string
	multilineBuffer string // Buffer for multiline input
	isMultiline     bool   // Flag to indicate if we're in multiline mode
	spinner         spinner.Model
	options         Options
}

// applyStyle applies a lipgloss style to a string, respecting the NoColor option
func (m model) applyStyle(style lipgloss.Style, text string) string {
	if m.options.NoColor {
		return text
	}
	return style.Render(text)
}

// historyEntry represents a single entry in the REPL history
type historyEntry struct {
	input          string
	output         string
	isError        bool
	errorType      ErrorType
	evaluationTime time.Duration // Time taken to evaluate
}

// initialModel creates a new model with default values
func initialModel(username string, options Options) model {
	ti := textinput.New()
	ti.Placeholder = "Enter orbc code"
	ti.Focus()
	ti.Width = 80
	ti.Prompt = promptStyle.Render(Prompt)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	return model{
		textInput:       ti,
		history:         []historyEntry{},
		username:        username,
		evaluating:      false,
		multilineBuffer: "",
		isMultiline:     false,
		spinner:         s,
		options:         options,
	}
}

// Init is the first function that will be called
func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// isBalanced checks if brackets and parens are balanced in the input.
// `end` itself does not need to be tracked here: an unclosed `if`/`while`/
// `for`/`function`/`class` reads as unbalanced parens or brackets far less
// often than it reads as a missing `end`, so the REPL's multiline trigger
// is purely bracket-balance, matching the compiler's own error message for
// a genuinely missing `end` (a parse error naming the unexpected EOF).
func isBalanced(input string) bool {
	var stack []rune

	for _, char := range input {
		switch char {
		case '(', '{', '[':
			stack = append(stack, char)
		case ')':
			if len(stack) == 0 || stack[len(stack)-1] != '(' {
				return false
			}
			stack = stack[:len(stack)-1]
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return false
			}
			stack = stack[:len(stack)-1]
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}

	return len(stack) == 0
}

// evalCmd compiles and runs input asynchronously, wrapping it as the body of
// a throwaway entrypoint function so the REPL can accept bare expressions
// and statements without requiring a `function main() ... end` wrapper.
func evalCmd(input string, debug bool) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()

		source := wrapSubmission(input)

		program, err := compiler.Compile(source)
		if err != nil {
			elapsed := time.Since(start)
			if debug {
				slog.Debug("compile error", "error", err)
			}
			return evalResultMsg{
				output:    formatParseErrors(err),
				isError:   true,
				errorType: ParseError,
				elapsed:   elapsed,
			}
		}

		evalStart := time.Now()
		result, err := vm.New().Execute(program, nil, replEntrypoint)
		evalTime := time.Since(evalStart)

		var output string
		isError := false
		errorType := NoError

		if err != nil {
			isError = true
			errorType = RuntimeError
			output = formatRuntimeError(err.Error())
		} else if result != nil {
			output = result.Inspect()
		} else {
			output = "null"
		}

		elapsed := time.Since(start)
		if debug {
			slog.Debug("eval timing", "eval", evalTime, "total", elapsed)
		}

		return evalResultMsg{
			output:    output,
			isError:   isError,
			errorType: errorType,
			elapsed:   elapsed,
		}
	}
}

// wrapSubmission wraps a line of REPL input in a throwaway function so a
// bare statement or expression can be compiled on its own. If the submission
// as a whole does not start with a statement keyword, `return ` is prefixed
// to it so a single bare expression's value becomes the REPL result. An
// expression that follows statements in the same submission is not returned.
func wrapSubmission(input string) string {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "return ") && looksLikeExpression(trimmed) {
		trimmed = "return " + trimmed
	}
	return fmt.Sprintf("function %s()\n%s\nend", replEntrypoint, trimmed)
}

// looksLikeExpression is a light heuristic: if the first keyword-shaped
// token on the line isn't a statement keyword, treat the whole line as an
// expression so its value can be auto-returned.
func looksLikeExpression(line string) bool {
	switch {
	case strings.HasPrefix(line, "var "),
		strings.HasPrefix(line, "const "),
		strings.HasPrefix(line, "if "),
		strings.HasPrefix(line, "while "),
		strings.HasPrefix(line, "for "),
		strings.HasPrefix(line, "function "),
		strings.HasPrefix(line, "class "),
		strings.HasPrefix(line, "return"):
		return false
	}
	return line != ""
}

// formatError formats error messages.
func (m model) formatError(errorStyle *lipgloss.Style, entry *historyEntry, s *strings.Builder) {
	// Split the output to separate the error message from the tips
	parts := strings.Split(entry.output, "\nTips:")
	if len(parts) > 1 {
		if m.options.NoColor {
			s.WriteString(parts[0])
			s.WriteString("\n")
			s.WriteString("Tips:" + parts[1])
		} else {
			s.WriteString(errorStyle.Render(parts[0]))
			s.WriteString("\n")
			s.WriteString(errorTipStyle.Render("Tips:" + parts[1]))
		}
	} else {
		if m.options.NoColor {
			s.WriteString(entry.output)
		} else {
			s.WriteString(errorStyle.Render(entry.output))
		}
	}
}

// Update handles all the updates to our model
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.evaluating {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case evalResultMsg:
		// Evaluation completed
		m.evaluating = false

		// Add to history
		m.history = append(m.history, historyEntry{
			input:          m.currentInput,
			output:         msg.output,
			isError:        msg.isError,
			errorType:      msg.errorType,
			evaluationTime: msg.elapsed,
		})

		m.currentInput = ""
		return m, nil

	case tea.KeyMsg:
		// If we're evaluating, ignore key presses except for Ctrl+C
		if m.evaluating && msg.Type != tea.KeyCtrlC {
			return m, m.spinner.Tick
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			input := m.textInput.Value()
			if input == "" {
				// If we're in multiline mode and the user enters an empty line, evaluate the buffer
				if m.isMultiline {
					if m.multilineBuffer == "" {
						m.isMultiline = false
						return m, nil
					}

					m.evaluating = true
					m.currentInput = m.multilineBuffer
					m.textInput.SetValue("")
					m.isMultiline = false

					buffer := m.multilineBuffer
					m.multilineBuffer = ""

					return m, evalCmd(buffer, m.options.Debug)
				}
				return m, nil
			}

			// If we're in multiline mode, append the input to the buffer
			if m.isMultiline {
				m.multilineBuffer += "\n" + input
				m.textInput.SetValue("")

				if isBalanced(m.multilineBuffer) {
					m.evaluating = true
					m.currentInput = m.multilineBuffer
					m.isMultiline = false

					buffer := m.multilineBuffer
					m.multilineBuffer = ""

					return m, evalCmd(buffer, m.options.Debug)
				}

				return m, nil
			}

			// Check if the input has balanced brackets
			if !isBalanced(input) {
				// Enter multiline mode
				m.isMultiline = true
				m.multilineBuffer = input
				m.textInput.SetValue("")
				return m, nil
			}

			m.evaluating = true
			m.currentInput = input
			m.textInput.SetValue("")

			return m, evalCmd(input, m.options.Debug)
		}
	}

	// Only update the text input if we're not evaluating
	if !m.evaluating {
		m.textInput, cmd = m.textInput.Update(msg)
	}

	// Ensure the spinner keeps ticking while evaluating
	if m.evaluating {
		return m, m.spinner.Tick
	}

	return m, cmd
}

// View renders the current UI
func (m model) View() string {
	var s strings.Builder

	// Title
	s.WriteString(m.applyStyle(titleStyle, " orbc REPL "))
	s.WriteString("\n")

	// Welcome message
	if m.username != "" {
		s.WriteString(fmt.Sprintf("\nHello %s! Feel free to type in commands\n", m.username))
	}
	s.WriteString("\n")

	// History
	for _, entry := range m.history {
		lines := strings.Split(entry.input, "\n")
		for i, line := range lines {
			if i == 0 {
				s.WriteString(m.applyStyle(promptStyle, Prompt))
			} else {
				s.WriteString(m.applyStyle(promptStyle, ContPrompt))
			}
			s.WriteString(m.highlightCode(line))
			s.WriteString("\n")
		}

		if entry.isError {
			switch entry.errorType {
			case ParseError:
				m.formatError(&parseErrorStyle, &entry, &s)
			case RuntimeError:
				m.formatError(&runtimeErrorStyle, &entry, &s)
			default:
				if m.options.NoColor {
					s.WriteString(entry.output)
				} else {
					s.WriteString(errorStyle.Render(entry.output))
				}
			}
		} else {
			if m.options.NoColor {
				s.WriteString(entry.output)
			} else {
				s.WriteString(resultStyle.Render(entry.output))
			}
		}

		if entry.evaluationTime > 10*time.Millisecond {
			timeStr := fmt.Sprintf(" (%.2fs)", entry.evaluationTime.Seconds())
			if m.options.NoColor {
				s.WriteString(timeStr)
			} else {
				s.WriteString(historyStyle.Render(timeStr))
			}
		}

		s.WriteString("\n\n")
	}

	// Current evaluation
	if m.evaluating {
		if m.options.NoColor {
			s.WriteString(Prompt)
		} else {
			s.WriteString(promptStyle.Render(Prompt))
		}
		s.WriteString(m.highlightCode(m.currentInput))
		s.WriteString("\n")
		s.WriteString(m.spinner.View())
		s.WriteString(" Evaluating...")
		s.WriteString("\n\n")
	}

	// Show multiline buffer if in multiline mode
	if m.isMultiline && !m.evaluating {
		if m.options.NoColor {
			s.WriteString("Current multiline input:\n")
		} else {
			s.WriteString(historyStyle.Render("Current multiline input:\n"))
		}
		s.WriteString(m.highlightCode(m.multilineBuffer))
		s.WriteString("\n")
	}

	// Input
	if !m.evaluating {
		if m.isMultiline {
			if m.options.NoColor {
				m.textInput.Prompt = ContPrompt
			} else {
				m.textInput.Prompt = promptStyle.Render(ContPrompt)
			}
		} else {
			if m.options.NoColor {
				m.textInput.Prompt = Prompt
			} else {
				m.textInput.Prompt = promptStyle.Render(Prompt)
			}
		}
		s.WriteString(m.textInput.View())
		s.WriteString("\n")
	}

	helpText := "\nPress Esc or Ctrl+C/D to exit"
	if m.isMultiline {
		helpText += " | Multiline mode: Enter empty line to evaluate or continue typing"
	} else {
		helpText += " | Multiline input supported for unbalanced brackets"
	}
	if m.options.NoColor {
		s.WriteString(helpText)
	} else {
		s.WriteString(historyStyle.Render(helpText))
	}

	return s.String()
}

// formatParseErrors formats a compile error into a string with improved readability
func formatParseErrors(err error) string {
	var s strings.Builder
	s.WriteString("Compile Errors:\n")
	s.WriteString("  " + err.Error() + "\n")

	s.WriteString("\nTips:\n")
	s.WriteString("  • Check for missing `end` keywords closing if/while/for/function/class\n")
	s.WriteString("  • Verify parentheses and brackets are balanced\n")
	s.WriteString("  • Ensure variable names are valid identifiers\n")

	return s.String()
}

// formatRuntimeError formats a runtime error into a string with improved readability
func formatRuntimeError(errorMsg string) string {
	var s strings.Builder
	s.WriteString("Runtime Error:\n")
	s.WriteString("  " + errorMsg + "\n")

	s.WriteString("\nTips:\n")

	//nolint:gocritic
	if strings.Contains(errorMsg, "unbound") || strings.Contains(errorMsg, "not found") {
		s.WriteString("  • Check if the variable is defined before use\n")
		s.WriteString("  • Verify the variable name is spelled correctly\n")
	} else if strings.Contains(errorMsg, "argument") {
		s.WriteString("  • Check the function call has the correct number of arguments\n")
	} else if strings.Contains(errorMsg, "type mismatch") || strings.Contains(errorMsg, "non-callable") {
		s.WriteString("  • Ensure operands or callees are of compatible types\n")
	} else if strings.Contains(errorMsg, "index") || strings.Contains(errorMsg, "bounds") {
		s.WriteString("  • Verify array indices are within bounds\n")
		s.WriteString("  • Ensure you're indexing an array or dictionary\n")
	} else {
		s.WriteString("  • Review your code logic\n")
		s.WriteString("  • Check for type mismatches or undefined variables\n")
	}

	return s.String()
}

// highlightCode applies syntax highlighting to orbc source for display in history.
func (m model) highlightCode(code string) string {
	l := lexer.New(code)
	var s strings.Builder

	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			break
		}
	}

	isKeyword := func(t token.Token) bool {
		switch t.Type {
		case token.FUNCTION, token.VAR, token.CONST, token.TRUE, token.FALSE, token.NULL,
			token.IF, token.THEN, token.ELSE, token.END, token.RETURN,
			token.WHILE, token.DO, token.FOR, token.TO, token.STEP, token.IN,
			token.CLASS, token.NEW:
			return true
		}
		return false
	}
	isOperator := func(t token.Token) bool {
		switch t.Type {
		case token.ASSIGN, token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.CARET,
			token.LT, token.LT_EQ, token.GT, token.GT_EQ, token.EQ, token.NOT_EQ:
			return true
		}
		return false
	}
	isDelimiter := func(t token.Token) bool {
		switch t.Type {
		case token.COMMA, token.COLON, token.DOT, token.LPAREN, token.RPAREN,
			token.LBRACE, token.RBRACE, token.LBRACKET, token.RBRACKET:
			return true
		}
		return false
	}

	for i := range len(tokens) - 1 {
		tok := tokens[i]
		if tok.Type == token.EOF {
			continue
		}
		next := tokens[i+1]

		switch {
		case isKeyword(tok):
			if m.options.NoColor {
				s.WriteString(tok.Literal)
			} else {
				s.WriteString(keywordStyle.Render(tok.Literal))
			}
		case tok.Type == token.IDENT:
			if m.options.NoColor {
				s.WriteString(tok.Literal)
			} else {
				s.WriteString(identifierStyle.Render(tok.Literal))
			}
		case tok.Type == token.INT, tok.Type == token.FLOAT:
			if m.options.NoColor {
				s.WriteString(tok.Literal)
			} else {
				s.WriteString(literalStyle.Render(tok.Literal))
			}
		case tok.Type == token.STRING:
			if m.options.NoColor {
				s.WriteString("\"" + tok.Literal + "\"")
			} else {
				s.WriteString(stringStyle.Render("\"" + tok.Literal + "\""))
			}
		case isOperator(tok):
			if m.options.NoColor {
				s.WriteString(tok.Literal)
			} else {
				s.WriteString(operatorStyle.Render(tok.Literal))
			}
		case isDelimiter(tok):
			if m.options.NoColor {
				s.WriteString(tok.Literal)
			} else {
				s.WriteString(delimiterStyle.Render(tok.Literal))
			}
		default:
			s.WriteString(tok.Literal)
		}

		if needsSpace(tok, next) {
			s.WriteString(" ")
		}
	}

	return s.String()
}

// needsSpace decides whether a space belongs between two adjacent tokens
// when rendering a single highlighted line. No space is written after `(`,
// `[` or `.`, nor before `)`, `]`, `,`, `:` or `.`; every other pair of
// adjacent tokens is separated by one space.
func needsSpace(tok, next token.Token) bool {
	if next.Type == token.EOF {
		return false
	}
	switch tok.Type {
	case token.LPAREN, token.LBRACKET, token.DOT:
		return false
	}
	switch next.Type {
	case token.RPAREN, token.RBRACKET, token.COMMA, token.COLON, token.DOT:
		return false
	}
	return true
}
