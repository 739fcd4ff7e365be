package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/extract"
	"github.com/vincentmin/table-agent/pkg/runner"
	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/table"
)

type turnMsg conversation.Turn
type doneMsg extract.AsyncResult

// progressModel follows one extraction turn by turn.
type progressModel struct {
	cancel   context.CancelFunc
	turnCh   <-chan conversation.Turn
	resultCh <-chan extract.AsyncResult

	spinner  spinner.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	width    int

	turns      []conversation.Turn
	modelCalls int
	executions int
	validated  int
	stopping   bool

	done   bool
	result *extract.Result
	err    error
}

func newProgressModel(cancel context.CancelFunc, turnCh <-chan conversation.Turn, resultCh <-chan extract.AsyncResult) progressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = senderStyle

	vp := viewport.New(80, 20)
	vp.SetContent("Waiting for the model...")

	return progressModel{
		cancel:   cancel,
		turnCh:   turnCh,
		resultCh: resultCh,
		spinner:  sp,
		viewport: vp,
		renderer: newRenderer(76),
		width:    80,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForTurn(m.turnCh), waitForResult(m.resultCh))
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4 // Header + status line
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer = newRenderer(msg.Width - 4)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// The run observes cancellation and reports back through resultCh.
			m.stopping = true
			m.cancel()
		}

	case turnMsg:
		turn := conversation.Turn(msg)
		m.turns = append(m.turns, turn)
		switch turn.Kind {
		case conversation.KindModel:
			m.modelCalls++
		case conversation.KindToolResult:
			m.executions++
			if turn.ToolResult != nil && turn.ToolResult.Artifact != nil {
				m.validated++
			}
		}
		m.refresh()
		cmds = append(cmds, waitForTurn(m.turnCh))

	case doneMsg:
		m.done = true
		m.result, m.err = msg.Result, msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *progressModel) refresh() {
	if len(m.turns) == 0 {
		return
	}
	m.viewport.SetContent(renderTranscript(m.renderer, m.turns))
	m.viewport.GotoBottom()
}

func (m progressModel) View() string {
	status := fmt.Sprintf("%s model calls: %d  executions: %d  validated: %d",
		m.spinner.View(), m.modelCalls, m.executions, m.validated)
	if m.stopping {
		status = errorStyle.Render("Stopping...")
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Table Extraction"),
		"",
		m.viewport.View(),
		status,
	)
}

func waitForTurn(ch <-chan conversation.Turn) tea.Cmd {
	return func() tea.Msg {
		turn, ok := <-ch
		if !ok {
			return nil
		}
		return turnMsg(turn)
	}
}

func waitForResult(ch <-chan extract.AsyncResult) tea.Cmd {
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return nil
		}
		return doneMsg(res)
	}
}

// runWithProgressView runs the extraction in the background while a
// full-screen view shows its conversation.
func runWithProgressView(ctx context.Context, tbl *table.Table, sch *schema.Schema, opts extract.Options) (*extract.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	turnCh := make(chan conversation.Turn, 64)
	opts.Observers = append(opts.Observers, runner.ObserverFunc(func(_ string, turn conversation.Turn) {
		select {
		case turnCh <- turn:
		case <-ctx.Done():
		}
	}))
	resultCh := extract.ExtractAsync(ctx, tbl, sch, opts)

	p := tea.NewProgram(newProgressModel(cancel, turnCh, resultCh), tea.WithAltScreen())
	final, err := p.Run()
	stopAndDrain(cancel, resultCh)
	if err != nil {
		return nil, fmt.Errorf("progress view: %w", err)
	}
	fm := final.(progressModel)
	if !fm.done {
		return nil, errors.New("progress view exited before the run finished")
	}
	return fm.result, fm.err
}

// stopAndDrain cancels the run and blocks until ExtractAsync has closed
// resultCh, by which point containers and scopes have been removed.
func stopAndDrain(cancel context.CancelFunc, resultCh <-chan extract.AsyncResult) {
	cancel()
	for range resultCh {
	}
}
