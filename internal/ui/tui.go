package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// recentFailures is how many failed documents the live view lists.
const recentFailures = 3

// TUIRenderer draws a live progress panel with bubbletea.
//
// The program does not read the keyboard, so Ctrl+C reaches the process as
// SIGINT and cancels the run through its context. The panel is drawn inline
// and the completion summary stays on screen after exit.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *runModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not a
// terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newRunModel(tracker, cfg.Title, cfg.Target)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.started = true

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
	r.send(redrawMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	r.send(redrawMsg{})
}

// Complete implements Renderer. If the program already exited (for example
// on interrupt) the summary is printed as plain text instead.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil || r.exited() {
		NewPlainRenderer(r.cfg).Complete(stats)
		return
	}
	r.program.Send(completeMsg(stats))
}

// Stop implements Renderer. It waits briefly for the program to draw its
// last frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program == nil {
		return nil
	}
	program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	if r.program != nil && !r.exited() {
		r.program.Send(msg)
	}
}

func (r *TUIRenderer) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

type redrawMsg struct{}
type completeMsg CompletionStats
type tickMsg time.Time

// runModel is the bubbletea model shared by index and build runs.
type runModel struct {
	tracker  *ProgressTracker
	width    int
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
	title    string
	target   string
}

func newRunModel(tracker *ProgressTracker, title, target string) *runModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &runModel{
		tracker: tracker,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(48),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
		width:  80,
		title:  title,
		target: target,
	}
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// tick refreshes rate and ETA while no progress events arrive, which is
// common while a large scanned PDF goes through OCR.
func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, min(msg.Width-16, 72))
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	width := max(40, m.width-4)
	if m.complete {
		return m.viewComplete(width)
	}

	stats := m.tracker.Stats()
	lines := []string{m.viewStages(stats.Stage), ""}

	if stats.Total == 0 {
		lines = append(lines, fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage))
	} else {
		lines = append(lines,
			m.bar.ViewAs(stats.Progress)+"  "+m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)),
			m.viewCounts(stats))
	}

	if chart := m.tracker.History(max(10, width-14)); strings.TrimSpace(chart) != "" {
		lines = append(lines, m.styles.Sparkline.Render(chart)+" "+m.styles.Dim.Render("throughput"))
	}

	if stats.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(truncateFilePath(stats.CurrentFile, width-4)))
	}

	if failures := m.tracker.Errors(); len(failures) > 0 {
		lines = append(lines, "")
		for _, f := range failures[max(0, len(failures)-recentFailures):] {
			lines = append(lines, m.styles.Error.Render(truncateFilePath(fmt.Sprintf("✗ %s: %v", f.File, f.Err), width-4)))
		}
	}

	return m.panel(lines, width) + "\n" + m.viewFooter(stats) + "\n"
}

func (m *runModel) header() string {
	title := m.title
	if title == "" {
		title = "LOKI"
	}
	if m.target != "" {
		title += " • " + m.target
	}
	return m.styles.Header.Render(title)
}

func (m *runModel) panel(lines []string, width int) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)
	return lipgloss.JoinVertical(lipgloss.Left, m.header(), box.Render(strings.Join(lines, "\n")))
}

// viewStages draws Scan → Extract → Embed → Index with the active stage
// spinning and finished stages filled.
func (m *runModel) viewStages(current Stage) string {
	names := []struct {
		stage Stage
		label string
	}{
		{StageScanning, "Scan"},
		{StageExtracting, "Extract"},
		{StageEmbedding, "Embed"},
		{StageIndexing, "Index"},
	}

	parts := make([]string, 0, len(names))
	for _, n := range names {
		switch {
		case n.stage < current:
			parts = append(parts, m.styles.Success.Render("● "+n.label))
		case n.stage == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+n.label))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+n.label))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *runModel) viewCounts(stats ProgressStats) string {
	parts := []string{fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, stats.Stage.Unit())}
	if stats.Rate > 0 {
		parts = append(parts, FormatRate(stats.Stage, stats.Rate))
	}
	if stats.ETA > 0 {
		parts = append(parts, "ETA "+formatDuration(stats.ETA))
	}
	return m.styles.Label.Render(strings.Join(parts, "  •  "))
}

func (m *runModel) viewFooter(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d skipped", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("Ctrl+C stops after the documents in flight"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *runModel) viewComplete(width int) string {
	title := m.stats.Title
	if title == "" {
		title = "Run"
	}

	var lines []string
	if m.stats.Interrupted {
		lines = append(lines, m.styles.Warning.Render("⚠ "+title+" Interrupted"), "")
	} else {
		lines = append(lines, m.styles.Success.Render("✓ "+title+" Complete"), "")
	}

	row := func(label, value string) {
		lines = append(lines, m.styles.Label.Render(fmt.Sprintf("%-17s", label))+" "+m.styles.Active.Render(value))
	}
	row("Documents:", fmt.Sprint(m.stats.Files))
	if m.stats.AlreadyComplete > 0 {
		row("Already complete:", fmt.Sprint(m.stats.AlreadyComplete))
	}
	row("Chunks:", fmt.Sprint(m.stats.Chunks))
	if m.stats.OCRUsed > 0 {
		row("OCR used:", fmt.Sprint(m.stats.OCRUsed))
	}
	row("Duration:", formatDuration(m.stats.Duration))
	if m.stats.Embedder.Backend != "" {
		row("Embedder:", fmt.Sprintf("%s %s (%d dims)", m.stats.Embedder.Backend, m.stats.Embedder.Model, m.stats.Embedder.Dimensions))
	}

	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d skipped", m.stats.Warnings)))
		}
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(width)
	return box.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "45s", "3m 5s" or "2h 5m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		if s := int(d.Seconds()) % 60; s != 0 {
			return fmt.Sprintf("%dm %ds", int(d.Minutes()), s)
		}
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens path to maxLen runes, keeping the file name
// and as much of the directory as fits after a leading "...".
func truncateFilePath(path string, maxLen int) string {
	r := []rune(path)
	if len(r) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return "..."
	}

	slash := strings.LastIndex(path, "/")
	name := []rune(path[slash+1:])
	if slash < 0 || len(name)+4 > maxLen {
		return "..." + string(r[len(r)-(maxLen-3):])
	}
	dir := []rune(path[:slash])
	keep := maxLen - len(name) - 4
	return "..." + string(dir[len(dir)-keep:]) + "/" + string(name)
}

var _ Renderer = (*TUIRenderer)(nil)
