// Package tui provides a terminal user interface for midi2makecode
package tui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/midi2makecode/pkg/converter"
	"github.com/james-see/midi2makecode/pkg/converter/targets"
)

// MakeCode-inspired color scheme
var (
	makecodeTeal   = lipgloss.Color("#3CC8C8")
	makecodeYellow = lipgloss.Color("#FFD43B")
	silverGray     = lipgloss.Color("#C0C0C0")
	darkGray       = lipgloss.Color("#333333")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(makecodeTeal).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(makecodeTeal).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(makecodeYellow).
			PaddingTop(1)

	warningStyle = lipgloss.NewStyle().
			Foreground(makecodeYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(makecodeTeal).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(makecodeTeal).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateMenu State = iota
	StateFilePicker
	StateConverting
	StateResult
)

// MenuItem represents a menu option
type MenuItem struct {
	Title       string
	Description string
	Target      converter.Target // nil for preview and exit
	Preview     bool
}

func menuItems() []MenuItem {
	items := make([]MenuItem, 0, 6)
	for _, t := range targets.All() {
		items = append(items, MenuItem{
			Title:       "MIDI → " + t.Name(),
			Description: fmt.Sprintf("Write %s melody code (%s)", t.Name(), t.Extension()),
			Target:      t,
		})
	}
	items = append(items,
		MenuItem{Title: "MIDI → Preview", Description: "Render the quantized melody back to a MIDI file", Preview: true},
		MenuItem{Title: "Exit", Description: "Exit the application"},
	)
	return items
}

// Model represents the TUI model
type Model struct {
	state        State
	menu         []MenuItem
	menuIndex    int
	format       converter.TokenFormat
	filePicker   filepicker.Model
	spinner      spinner.Model
	selectedFile string
	outputFile   string
	conversion   MenuItem
	warnings     []string
	err          error
	width        int
	height       int
}

// conversionDoneMsg signals conversion completion
type conversionDoneMsg struct {
	outputFile string
	warnings   []string
	err        error
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick)
}

// New creates a new TUI model writing tokens in format
func New(format converter.TokenFormat) Model {
	// Initialize file picker
	fp := filepicker.New()
	fp.AllowedTypes = []string{".mid", ".midi", ".json"}
	fp.CurrentDirectory, _ = os.Getwd()

	// Initialize spinner
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(makecodeTeal)

	return Model{
		state:      StateMenu,
		menu:       menuItems(),
		format:     format,
		filePicker: fp,
		spinner:    s,
	}
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Handle file picker state first - it needs to receive all messages
	if m.state == StateFilePicker {
		// Check for escape/quit keys first
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateMenu
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}

		// Pass all other messages to the file picker
		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		// Check if file was selected
		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.selectedFile = path
			m.state = StateConverting
			return m, tea.Batch(m.spinner.Tick, m.performConversion())
		}

		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StateMenu:
			return m.updateMenu(msg)
		case StateResult:
			return m.updateResult(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case conversionDoneMsg:
		m.state = StateResult
		m.outputFile = msg.outputFile
		m.warnings = msg.warnings
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuIndex > 0 {
			m.menuIndex--
		}
	case "down", "j":
		if m.menuIndex < len(m.menu)-1 {
			m.menuIndex++
		}
	case "enter":
		if m.menuIndex == len(m.menu)-1 {
			return m, tea.Quit
		}
		m.conversion = m.menu[m.menuIndex]
		m.state = StateFilePicker
		return m, m.filePicker.Init()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.state = StateMenu
		m.err = nil
		m.selectedFile = ""
		m.outputFile = ""
		m.warnings = nil
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) performConversion() tea.Cmd {
	item, input, format := m.conversion, m.selectedFile, m.format
	return func() tea.Msg {
		return convertFile(item, input, format)
	}
}

func convertFile(item MenuItem, input string, format converter.TokenFormat) conversionDoneMsg {
	conv := converter.New(item.Target, converter.WithTokenFormat(format))

	base := strings.TrimSuffix(input, filepath.Ext(input))
	outputFile := base + ".preview.mid"
	if !item.Preview {
		outputFile = converter.OutputPath(input, item.Target)
		// JSON input converted to JSON would overwrite itself
		if outputFile == input {
			outputFile = base + ".song" + item.Target.Extension()
		}
	}

	err := conv.ConvertFile(input, outputFile)
	var skipped *converter.SkippedTracksError
	if errors.As(err, &skipped) {
		return conversionDoneMsg{outputFile: outputFile, warnings: skipped.Warnings()}
	}
	if err != nil {
		return conversionDoneMsg{err: err}
	}
	return conversionDoneMsg{outputFile: outputFile}
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	// Header
	header := asciiLogo()
	s.WriteString(header)
	s.WriteString("\n")

	switch m.state {
	case StateMenu:
		s.WriteString(m.viewMenu())
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateConverting:
		s.WriteString(m.viewConverting())
	case StateResult:
		s.WriteString(m.viewResult())
	}

	// Footer help
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(fmt.Sprintf("↑/↓: navigate • enter: select • q: quit • tokens: %s", m.format)))

	return s.String()
}

func (m Model) viewMenu() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT TARGET "))
	s.WriteString("\n\n")

	for i, item := range m.menu {
		if i == m.menuIndex {
			s.WriteString(selectedStyle.Render(fmt.Sprintf("▸ %s", item.Title)))
			s.WriteString("\n")
			s.WriteString(lipgloss.NewStyle().Foreground(makecodeYellow).PaddingLeft(4).Render(item.Description))
		} else {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  %s", item.Title)))
		}
		s.WriteString("\n")
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT MIDI FILE "))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to menu"))

	return s.String()
}

func (m Model) viewConverting() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" CONVERTING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Converting %s...\n", m.spinner.View(), filepath.Base(m.selectedFile)))
	s.WriteString(statusStyle.Render("  " + m.conversion.Title))

	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	if m.err != nil {
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Conversion failed: %s", m.err.Error())))
	} else {
		s.WriteString(titleStyle.Render(" SUCCESS "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ Conversion complete!"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Input:  %s\n", filepath.Base(m.selectedFile)))
		s.WriteString(fmt.Sprintf("Output: %s", filepath.Base(m.outputFile)))
		for _, w := range m.warnings {
			s.WriteString("\n")
			s.WriteString(warningStyle.Render("skipped " + w))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press enter to continue"))

	return boxStyle.Render(s.String())
}

func asciiLogo() string {
	logo := `
  __  __ ___ ___ ___   ___    __  __      _         ___         _
 |  \/  |_ _|   \_ _| |_  )  |  \/  |__ _| |_____  / __|___  __| |___
 | |\/| || || |) | |   / /   | |\/| / _' | / / -_)| (__/ _ \/ _' / -_)
 |_|  |_|___|___/___| /___|  |_|  |_\__,_|_\_\___| \___\___/\__,_\___|
`
	return lipgloss.NewStyle().Foreground(makecodeTeal).Render(logo)
}

// Run starts the TUI application
func Run(format converter.TokenFormat) error {
	p := tea.NewProgram(New(format), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
