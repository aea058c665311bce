package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"})

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"})

	unselectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})

	errorTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"})

	levelStyles = map[MessageLevel]lipgloss.Style{
		LevelInfo:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#00AAFF"}),
		LevelWarn:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#AA7700", Dark: "#FFCC00"}),
		LevelError: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}),
	}
)

// Terminal prompts on an interactive terminal with bubbletea.
type Terminal struct {
	in       io.Reader
	out      io.Writer
	renderer *glamour.TermRenderer
}

var _ UserInteraction = (*Terminal)(nil)

// NewTerminal creates a terminal UI on in/out. Nil values default to the
// process stdin and stderr.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		renderer = nil
	}
	return &Terminal{in: in, out: out, renderer: renderer}
}

func (t *Terminal) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	return p.Run()
}

// promptOutcome is shared by every prompt model.
type promptOutcome struct {
	canceled bool
	back     bool
	done     bool
}

func (o promptOutcome) kind() ResultKind {
	switch {
	case o.canceled:
		return ResultCancel
	case o.back:
		return ResultBack
	default:
		return ResultSuccess
	}
}

func header(p Prompt) string {
	title := p.Title
	if title == "" {
		title = p.Name
	}
	if p.TotalSteps > 0 {
		title = fmt.Sprintf("%s (%d/%d)", title, p.Step, p.TotalSteps)
	}
	return titleStyle.Render("? " + title)
}

// selectModel drives single and multi selection.
type selectModel struct {
	prompt   Prompt
	options  []Option
	multi    bool
	cursor   int
	chosen   map[int]bool
	validate func([]string) string
	errMsg   string
	outcome  promptOutcome
}

func newSelectModel(p Prompt, options []Option, multi bool, defaults []string, validate func([]string) string) selectModel {
	m := selectModel{
		prompt:   p,
		options:  options,
		multi:    multi,
		chosen:   make(map[int]bool),
		validate: validate,
	}
	for i, o := range options {
		for _, d := range defaults {
			if o.ID == d {
				m.chosen[i] = true
				if !multi {
					m.cursor = i
				}
			}
		}
	}
	return m
}

func (m selectModel) Init() tea.Cmd {
	return nil
}

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case " ":
		if m.multi {
			m.chosen[m.cursor] = !m.chosen[m.cursor]
		}
	case "enter":
		if m.validate != nil {
			if errMsg := m.validate(m.selected()); errMsg != "" {
				m.errMsg = errMsg
				return m, nil
			}
		}
		m.outcome.done = true
		return m, tea.Quit
	case "shift+tab":
		m.outcome.back = true
		return m, tea.Quit
	case "ctrl+c", "esc":
		m.outcome.canceled = true
		return m, tea.Quit
	}
	return m, nil
}

func (m selectModel) selected() []string {
	if !m.multi {
		if len(m.options) == 0 {
			return nil
		}
		return []string{m.options[m.cursor].ID}
	}
	ids := make([]string, 0, len(m.chosen))
	for i, o := range m.options {
		if m.chosen[i] {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func (m selectModel) View() string {
	var b strings.Builder
	b.WriteString(header(m.prompt) + "\n\n")

	for i, opt := range m.options {
		cursor := "  "
		style := unselectedStyle
		if i == m.cursor {
			cursor = titleStyle.Render("❯ ")
			style = selectedStyle
		}

		label := opt.Label
		if label == "" {
			label = opt.ID
		}
		if m.multi {
			box := "[ ] "
			if m.chosen[i] {
				box = "[x] "
			}
			label = box + label
		}

		b.WriteString(cursor + style.Render(label))
		if opt.Description != "" && i == m.cursor {
			b.WriteString(dimStyle.Render(" - " + opt.Description))
		}
		b.WriteString("\n")
	}

	if m.errMsg != "" {
		b.WriteString(errorTextStyle.Render("  "+m.errMsg) + "\n")
	}

	help := "  ↑ ↓ to navigate • enter to select • esc to cancel"
	if m.multi {
		help = "  ↑ ↓ to navigate • space to toggle • enter to confirm • esc to cancel"
	}
	b.WriteString("\n" + dimStyle.Render(help))
	return b.String()
}

// inputModel drives free text and path prompts.
type inputModel struct {
	prompt   Prompt
	input    textinput.Model
	validate StringValidator
	errMsg   string
	outcome  promptOutcome
}

func newInputModel(p Prompt, def string, password bool, validate StringValidator) inputModel {
	ti := textinput.New()
	ti.Placeholder = p.Placeholder
	ti.SetValue(def)
	ti.Focus()
	if password {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return inputModel{prompt: p, input: ti, validate: validate}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if m.validate != nil {
				if errMsg := m.validate(m.input.Value()); errMsg != "" {
					m.errMsg = errMsg
					return m, nil
				}
			}
			m.outcome.done = true
			return m, tea.Quit
		case "shift+tab":
			m.outcome.back = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.outcome.canceled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	var b strings.Builder
	b.WriteString(header(m.prompt) + "\n")
	b.WriteString(m.input.View() + "\n")
	if m.errMsg != "" {
		b.WriteString(errorTextStyle.Render("  "+m.errMsg) + "\n")
	}
	b.WriteString(dimStyle.Render("  enter to confirm • esc to cancel"))
	return b.String()
}

func (t *Terminal) selectPrompt(ctx context.Context, m selectModel) InputResult[[]string] {
	final, err := t.run(ctx, m)
	if err != nil {
		if ctx.Err() != nil {
			return Canceled[[]string]()
		}
		return Failed[[]string](err)
	}
	sm := final.(selectModel)
	if kind := sm.outcome.kind(); kind != ResultSuccess {
		return InputResult[[]string]{Kind: kind}
	}
	return Success(sm.selected())
}

func (t *Terminal) inputPrompt(ctx context.Context, m inputModel) InputResult[string] {
	final, err := t.run(ctx, m)
	if err != nil {
		if ctx.Err() != nil {
			return Canceled[string]()
		}
		return Failed[string](err)
	}
	im := final.(inputModel)
	if kind := im.outcome.kind(); kind != ResultSuccess {
		return InputResult[string]{Kind: kind}
	}
	return Success(strings.TrimSpace(im.input.Value()))
}

// SelectOption implements UserInteraction.
func (t *Terminal) SelectOption(ctx context.Context, cfg SingleSelectConfig) InputResult[string] {
	var validate func([]string) string
	if cfg.Validate != nil {
		validate = func(v []string) string {
			if len(v) == 0 {
				return "select an option"
			}
			return cfg.Validate(v[0])
		}
	}

	res := t.selectPrompt(ctx, newSelectModel(cfg.Prompt, cfg.Options, false, []string{cfg.Default}, validate))
	if res.Kind != ResultSuccess {
		return InputResult[string]{Kind: res.Kind, Err: res.Err}
	}
	if len(res.Value) == 0 {
		return Failed[string](invalidInput(cfg.Name, "no options available"))
	}
	return Success(res.Value[0])
}

// SelectOptions implements UserInteraction.
func (t *Terminal) SelectOptions(ctx context.Context, cfg MultiSelectConfig) InputResult[[]string] {
	return t.selectPrompt(ctx, newSelectModel(cfg.Prompt, cfg.Options, true, cfg.Default, cfg.Validate))
}

// InputText implements UserInteraction.
func (t *Terminal) InputText(ctx context.Context, cfg InputTextConfig) InputResult[string] {
	return t.inputPrompt(ctx, newInputModel(cfg.Prompt, cfg.Default, cfg.Password, cfg.Validate))
}

// SelectFile implements UserInteraction.
func (t *Terminal) SelectFile(ctx context.Context, cfg SelectFileConfig) InputResult[string] {
	return t.inputPrompt(ctx, newInputModel(cfg.Prompt, cfg.Default, false, pathValidator(false, cfg.Validate)))
}

// SelectFolder implements UserInteraction.
func (t *Terminal) SelectFolder(ctx context.Context, cfg SelectFolderConfig) InputResult[string] {
	return t.inputPrompt(ctx, newInputModel(cfg.Prompt, cfg.Default, false, pathValidator(true, cfg.Validate)))
}

// SelectFiles implements UserInteraction. Paths are entered comma-separated.
func (t *Terminal) SelectFiles(ctx context.Context, cfg SelectFilesConfig) InputResult[[]string] {
	validate := func(s string) string {
		paths := splitList(s)
		for _, p := range paths {
			if msg := checkPath(p, false); msg != "" {
				return msg
			}
		}
		if cfg.Validate != nil {
			return cfg.Validate(paths)
		}
		return ""
	}

	p := cfg.Prompt
	if p.Placeholder == "" {
		p.Placeholder = "file1, file2"
	}
	res := t.inputPrompt(ctx, newInputModel(p, strings.Join(cfg.Default, ", "), false, validate))
	if res.Kind != ResultSuccess {
		return InputResult[[]string]{Kind: res.Kind, Err: res.Err}
	}
	return Success(splitList(res.Value))
}

// OpenURL implements UserInteraction. The URL is printed for the user to open.
func (t *Terminal) OpenURL(ctx context.Context, url string) InputResult[bool] {
	fmt.Fprintln(t.out, levelStyles[LevelInfo].Render("Open in your browser: ")+url)
	return Success(true)
}

// ShowMessage implements UserInteraction. Messages are rendered as markdown.
// A modal message with items asks the user to pick one.
func (t *Terminal) ShowMessage(ctx context.Context, level MessageLevel, message string, modal bool, items ...string) InputResult[string] {
	body := message
	if t.renderer != nil {
		if rendered, err := t.renderer.Render(message); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	}

	style, ok := levelStyles[level]
	if !ok {
		style = levelStyles[LevelInfo]
	}
	fmt.Fprintln(t.out, style.Render(strings.ToUpper(string(level)))+" "+body)

	if !modal || len(items) == 0 {
		return Success("")
	}

	options := make([]Option, len(items))
	for i, item := range items {
		options[i] = Option{ID: item, Label: item}
	}
	return t.SelectOption(ctx, SingleSelectConfig{
		Prompt:  Prompt{Name: "message", Title: "Choose an action"},
		Options: options,
	})
}

type progressMsg struct {
	percent float64
	message string
}

type taskDoneMsg struct {
	result InputResult[any]
}

// progressModel shows a spinner while a task runs.
type progressModel struct {
	name     string
	spinner  spinner.Model
	percent  float64
	message  string
	result   InputResult[any]
	finished bool
	cancel   context.CancelFunc
	canStop  bool
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.percent = msg.percent
		m.message = msg.message
		return m, nil
	case taskDoneMsg:
		m.result = msg.result
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && m.canStop {
			m.cancel()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}
	line := fmt.Sprintf("%s %s %3.0f%%", m.spinner.View(), m.name, m.percent)
	if m.message != "" {
		line += " " + dimStyle.Render(m.message)
	}
	return line
}

// RunWithProgress implements UserInteraction.
func (t *Terminal) RunWithProgress(ctx context.Context, task ProgressTask) InputResult[any] {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = stepStyle

	m := progressModel{
		name:    task.Name,
		spinner: sp,
		cancel:  cancel,
		canStop: task.Cancelable,
	}

	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(t.in), tea.WithOutput(t.out))

	go func() {
		res := runTask(taskCtx, task, func(percent float64, message string) {
			p.Send(progressMsg{percent: percent, message: message})
		})
		p.Send(taskDoneMsg{result: res})
	}()

	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return Canceled[any]()
		}
		return Failed[any](err)
	}
	return final.(progressModel).result
}

// CreateProgressBar implements UserInteraction.
func (t *Terminal) CreateProgressBar(title string, totalSteps int) ProgressBar {
	return newStyledProgressBar(t.out, title, totalSteps)
}

func pathValidator(dir bool, next StringValidator) StringValidator {
	return func(s string) string {
		if msg := checkPath(strings.TrimSpace(s), dir); msg != "" {
			return msg
		}
		if next != nil {
			return next(strings.TrimSpace(s))
		}
		return ""
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
