package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/reflow/wordwrap"

	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/progress"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
)

const (
	AgentName       = "Narrator"
	PlaceHolderText = "Describe what your character does..."
)

type phase int

const (
	phasePickStory phase = iota
	phaseNameCharacter
	phasePlaying
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	api          *APIClient
	phase        phase
	story        *story.Story
	character    *story.Character
	messages     []story.Message
	round        *session.RoundStatus
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	nameInput    textinput.Model
	ready        bool
	width        int
	height       int
	err          error

	// Story selection state
	stories        []story.Story
	selectedStory  int
	loadingStories bool
	joining        bool

	// Quit confirmation state
	showQuitModal bool

	// Narration wait state
	loading     bool
	waitStart   time.Time
	estimator   *progress.Estimator
	progressBar progressbar.Model

	notice      string
	noticeError bool

	events    chan SSEEvent
	cancelSSE context.CancelFunc
}

type storiesLoadedMsg struct {
	stories []story.Story
	err     error
}

type joinedMsg struct {
	story     *story.Story
	character *story.Character
	messages  []story.Message
	err       error
}

type actionResultMsg struct {
	result     *session.RoundResult
	err        error
	start, end time.Time
}

type roundStatusMsg struct {
	status *session.RoundStatus
	story  *story.Story
	err    error
}

type messagesMsg struct {
	messages []story.Message
	err      error
}

type optimizedMsg struct {
	text string
	err  error
}

type leftMsg struct {
	err error
}

type sseEventMsg struct {
	event SSEEvent
}

type sseClosedMsg struct {
	err error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

const helpText = `Commands:
• /help - Show this help
• /status - Refresh the round status
• /copy - Copy the last narration to the clipboard
• /optimize <text> - Polish your draft before sending it
• /finale - End the story with a grand finale
• /leave - Leave the story
• Ctrl+C - Quit

How to play:
• Type your character's action and press Enter
• The narrator answers once every active character has acted
• Sending again before the round closes replaces your action`

func NewConsoleUI(cfg *ConsoleConfig, api *APIClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	ni := textinput.New()
	ni.Placeholder = "Character name"
	ni.CharLimit = 60

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:         cfg,
		api:            api,
		phase:          phasePickStory,
		textarea:       ta,
		nameInput:      ni,
		chatViewport:   chatVp,
		metaViewport:   metaVp,
		loadingStories: true,
		estimator:      progress.NewEstimator(),
		progressBar:    progressbar.New(progressbar.WithDefaultGradient()),
	}
}

// panelWidths splits the screen 75/25 between transcript and side panel.
func panelWidths(width int) (chatWidth, metaWidth int) {
	chatWidth = int(float64(width)*0.75) - 4
	metaWidth = width - chatWidth - 6
	return chatWidth, metaWidth
}

func (m *ConsoleUI) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	chatWidth, metaWidth := panelWidths(m.width)
	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)

	barWidth := m.chatViewport.Width - 6
	if barWidth > 80 {
		barWidth = 80
	} else if barWidth < 10 {
		barWidth = 10
	}
	m.progressBar.Width = barWidth
}

// characterNames maps character ids to names, including departed ones.
func characterNames(s *story.Story) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string)
	if s == nil {
		return names
	}
	for _, c := range s.Characters {
		names[c.ID] = c.Name
	}
	return names
}

// lastNarration returns the newest narrator text, or "".
func lastNarration(messages []story.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type == story.MessageNarrator {
			return messages[i].Text()
		}
	}
	return ""
}

// appendMessages adds messages not yet in the transcript, keyed by id.
// The same message can arrive both in an API response and over SSE.
func appendMessages(existing []story.Message, incoming ...*story.Message) []story.Message {
	for _, msg := range incoming {
		if msg == nil {
			continue
		}
		dup := false
		for _, have := range existing {
			if have.ID == msg.ID {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, *msg)
		}
	}
	return existing
}

// parseCommand splits "/name rest" into its lower-cased name and argument.
func parseCommand(input string) (name, arg string) {
	input = strings.TrimSpace(input)
	name, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func renderTranscript(s *story.Story, self *story.Character, messages []story.Message, width int) string {
	var content strings.Builder
	title := "EPIC SAGA"
	if s != nil {
		title = strings.ToUpper(s.Title)
	}
	content.WriteString(titleStyle.Render(title) + "\n\n")
	content.WriteString("Type your character's action below. The narrator answers when everyone has acted.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(width-6, 1))) + "\n\n")

	names := characterNames(s)
	for _, msg := range messages {
		text := msg.Text()
		switch {
		case msg.Type == story.MessageNarrator && story.IsFinale(text):
			content.WriteString(titleStyle.Render(story.FinaleBanner) + "\n\n")
			content.WriteString(formatNarratorResponse(story.FinaleBody(text), width) + "\n\n")
			content.WriteString(titleStyle.Render(story.FinaleEnd) + "\n\n")
		case msg.Type == story.MessageNarrator:
			content.WriteString(formatNarratorResponse(text, width) + "\n\n")
		default:
			name := "Someone"
			style := speakerStyle
			if msg.CharacterID != nil {
				if n, ok := names[*msg.CharacterID]; ok {
					name = n
				}
				if self != nil && *msg.CharacterID == self.ID {
					style = userStyle
				}
			}
			content.WriteString(style.Render(name+": ") + wordwrap.String(text, max(width-len(name)-2, 10)) + "\n\n")
		}
		if msg.Content != nil && msg.Content.Image() != "" {
			content.WriteString(promptStyle.Render("Illustration: "+msg.Content.Image()) + "\n\n")
		}
	}
	return content.String()
}

func writeMetadata(s *story.Story, self *story.Character, round *session.RoundStatus) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("STORY") + "\n\n")
	if s == nil {
		return content.String()
	}

	content.WriteString("Story ID:\n")
	content.WriteString(s.ID.String()[:8] + "...\n\n")

	content.WriteString("Status:\n")
	content.WriteString(string(s.Status) + "\n\n")

	if self != nil {
		content.WriteString("Playing as:\n")
		content.WriteString(self.Name + "\n")
		if self.Class != "" || self.Race != "" {
			content.WriteString(strings.TrimSpace(self.Race+" "+self.Class) + "\n")
		}
		content.WriteString(fmt.Sprintf("Karma: %d\n\n", self.KarmaPoints))
	}

	names := characterNames(s)
	if round != nil {
		content.WriteString("Round:\n")
		content.WriteString(fmt.Sprintf("%s, %d/%d acted\n", round.State, round.PendingCount, round.RequiredCount))
		if len(round.Waiting) > 0 {
			content.WriteString("Waiting on:\n")
			for _, id := range round.Waiting {
				content.WriteString("• " + names[id] + "\n")
			}
		}
		content.WriteString("\n")
	}

	content.WriteString(fmt.Sprintf("Cast (%d/%d):\n", s.CurrentAuthors, s.MaxAuthors))
	for _, c := range s.ActiveCharacters() {
		content.WriteString("• " + c.Name + "\n")
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• /status: Round\n")

	return content.String()
}

// writeChatContent rebuilds the transcript for the current viewport width
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding

	content := renderTranscript(m.story, m.character, m.messages, chatWidth)
	if m.loading {
		pct := m.estimator.EstimateProgress(m.waitStart) / 100
		content += loadingStyle.Render("The narrator is writing...") + "\n" + m.progressBar.ViewAs(pct) + "\n\n"
	}
	if m.notice != "" {
		style := loadingStyle
		if m.noticeError {
			style = errorStyle
		}
		content += style.Render(m.notice) + "\n\n"
	}

	m.chatViewport.SetContent(content)
	m.chatViewport.GotoBottom()
}

func (m *ConsoleUI) writeSidePanel() {
	m.metaViewport.SetContent(writeMetadata(m.story, m.character, m.round))
}

func (m *ConsoleUI) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeError = isErr
	m.writeChatContent()
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.loadStories()
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	switch m.phase {
	case phasePickStory:
		return m.updateStoryModal(msg)
	case phaseNameCharacter:
		return m.updateNameModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.writeChatContent()
		m.writeSidePanel()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}

			m.textarea.Reset()
			m.startWaiting()
			return m, tea.Batch(m.submitAction(input), progressTick())
		}

	case actionResultMsg:
		m.loading = false
		if msg.err != nil {
			m.setNotice("Error: "+msg.err.Error(), true)
			return m, m.refreshRound()
		}
		m.absorbResult(msg.result)
		if msg.result.RoundClosed && !msg.result.Fallback {
			m.estimator.RecordLatency(msg.start, msg.end)
		}
		return m, m.refreshRound()

	case roundStatusMsg:
		if msg.err != nil {
			m.setNotice("Error: "+msg.err.Error(), true)
			return m, nil
		}
		m.round = msg.status
		if msg.story != nil {
			m.story = msg.story
			if own := ownCharacter(msg.story, m.api.userID); own != nil {
				m.character = own
			}
		}
		m.writeSidePanel()
		m.writeChatContent()

	case messagesMsg:
		if msg.err != nil {
			m.setNotice("Error: "+msg.err.Error(), true)
			return m, nil
		}
		m.messages = msg.messages
		m.writeChatContent()

	case optimizedMsg:
		m.loading = false
		if msg.err != nil {
			m.setNotice("Error: "+msg.err.Error(), true)
			return m, nil
		}
		m.textarea.SetValue(msg.text)
		m.setNotice("Optimized draft ready. Edit it or press Enter to send.", false)

	case leftMsg:
		if msg.err != nil {
			m.setNotice("Error: "+msg.err.Error(), true)
			return m, nil
		}
		m.stopSSE()
		m.phase = phasePickStory
		m.loadingStories = true
		m.story, m.character, m.messages, m.round = nil, nil, nil, nil
		m.notice = ""
		return m, m.loadStories()

	case sseEventMsg:
		cmd := m.handleEvent(msg.event)
		return m, tea.Batch(cmd, m.waitForEvent())

	case sseClosedMsg:
		if msg.err != nil && m.cancelSSE != nil {
			m.setNotice("Live updates unavailable: "+msg.err.Error(), true)
		}
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m *ConsoleUI) startWaiting() {
	m.loading = true
	m.waitStart = time.Now()
	m.notice = ""
	m.writeChatContent()
}

func (m *ConsoleUI) absorbResult(result *session.RoundResult) {
	m.messages = appendMessages(m.messages, result.Message, result.Narration)
	switch {
	case result.Fallback:
		m.setNotice(result.Notice, true)
	case result.RoundClosed:
		m.setNotice("", false)
	default:
		m.setNotice(fmt.Sprintf("Action recorded. Waiting for %d more.", result.RequiredCount-result.PendingCount), false)
	}
}

func (m *ConsoleUI) handleEvent(ev SSEEvent) tea.Cmd {
	switch ev.Type {
	case "message.created":
		if msg, ok := messageFromEvent(ev); ok {
			m.messages = appendMessages(m.messages, msg)
			m.writeChatContent()
		}
	case "round.completed", "character.joined", "character.left":
		return m.refreshRound()
	case "narration.failed":
		m.setNotice("The narrator could not continue. Use /status and try again.", true)
	case "story.completed":
		if m.story != nil {
			m.story.Status = story.StatusCompleted
		}
		m.writeSidePanel()
		m.setNotice("The story is complete.", false)
	case "story.restarted":
		m.setNotice("The story was restarted.", false)
		return tea.Batch(m.reloadMessages(), m.refreshRound())
	}
	return nil
}

func formatNarratorResponse(response string, width int) string {
	narratorPrefix := AgentName + ": "
	wrapped := wordwrap.String(strings.TrimSpace(response), max(width-len(narratorPrefix), 10))
	return narratorStyle.Render(narratorPrefix) + wrapped
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	name, arg := parseCommand(input)
	m.textarea.Reset()

	switch name {
	case "/help":
		m.setNotice(helpText, false)

	case "/status":
		return m, m.refreshRound()

	case "/copy":
		text := lastNarration(m.messages)
		if text == "" {
			m.setNotice("There is no narration to copy yet.", true)
			break
		}
		if err := clipboard.WriteAll(text); err != nil {
			m.setNotice("Failed to copy: "+err.Error(), true)
			break
		}
		m.setNotice("Last narration copied to the clipboard.", false)

	case "/optimize":
		if arg == "" {
			m.setNotice("Usage: /optimize <text>", true)
			break
		}
		m.startWaiting()
		return m, tea.Batch(m.optimize(arg), progressTick())

	case "/finale":
		m.startWaiting()
		return m, tea.Batch(m.completeStory(), progressTick())

	case "/leave":
		return m, m.leaveStory()

	default:
		m.setNotice("Unknown command "+name+". Type /help for a list.", true)
	}

	return m, nil
}

func (m ConsoleUI) submitAction(action string) tea.Cmd {
	storyID := m.story.ID
	return func() tea.Msg {
		start := time.Now()
		result, err := m.api.submitAction(context.Background(), storyID, action)
		return actionResultMsg{result: result, err: err, start: start, end: time.Now()}
	}
}

func (m ConsoleUI) completeStory() tea.Cmd {
	storyID := m.story.ID
	return func() tea.Msg {
		start := time.Now()
		result, err := m.api.complete(context.Background(), storyID)
		return actionResultMsg{result: result, err: err, start: start, end: time.Now()}
	}
}

func (m ConsoleUI) refreshRound() tea.Cmd {
	if m.story == nil {
		return nil
	}
	storyID := m.story.ID
	return func() tea.Msg {
		ctx := context.Background()
		status, err := m.api.roundStatus(ctx, storyID)
		if err != nil {
			return roundStatusMsg{err: err}
		}
		s, err := m.api.getStory(ctx, storyID)
		return roundStatusMsg{status: status, story: s, err: err}
	}
}

func (m ConsoleUI) reloadMessages() tea.Cmd {
	storyID := m.story.ID
	return func() tea.Msg {
		messages, err := m.api.loadMessages(context.Background(), storyID)
		return messagesMsg{messages: messages, err: err}
	}
}

func (m ConsoleUI) optimize(text string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.api.optimize(context.Background(), text)
		return optimizedMsg{text: out, err: err}
	}
}

func (m ConsoleUI) leaveStory() tea.Cmd {
	if m.character == nil {
		return nil
	}
	storyID, characterID := m.story.ID, m.character.ID
	return func() tea.Msg {
		return leftMsg{err: m.api.leave(context.Background(), storyID, characterID)}
	}
}

func (m ConsoleUI) loadStories() tea.Cmd {
	return func() tea.Msg {
		stories, err := m.api.listStories(context.Background())
		return storiesLoadedMsg{stories: stories, err: err}
	}
}

// joinStory reuses the user's active character or creates one named name,
// then loads the transcript.
func (m ConsoleUI) joinStory(storyID uuid.UUID, name string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		s, err := m.api.getStory(ctx, storyID)
		if err != nil {
			return joinedMsg{err: err}
		}
		ch, err := m.api.joinStory(ctx, s, name)
		if err != nil {
			return joinedMsg{err: err}
		}
		if s, err = m.api.getStory(ctx, storyID); err != nil {
			return joinedMsg{err: err}
		}
		messages, err := m.api.loadMessages(ctx, storyID)
		if err != nil {
			return joinedMsg{err: err}
		}
		return joinedMsg{story: s, character: ch, messages: messages}
	}
}

// startSSE opens the story's event stream. The listener runs until
// stopSSE cancels it.
func (m *ConsoleUI) startSSE() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelSSE = cancel
	m.events = make(chan SSEEvent, 16)

	api, storyID, events := m.api, m.story.ID, m.events
	listen := func() tea.Msg {
		err := api.listenToSSE(ctx, storyID, events)
		close(events)
		if ctx.Err() != nil {
			return sseClosedMsg{}
		}
		return sseClosedMsg{err: err}
	}
	return tea.Batch(listen, m.waitForEvent())
}

func (m *ConsoleUI) stopSSE() {
	if m.cancelSSE != nil {
		m.cancelSSE()
		m.cancelSSE = nil
	}
	m.events = nil
}

func (m ConsoleUI) waitForEvent() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return sseEventMsg{event: ev}
	}
}

func (m ConsoleUI) updateStoryModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case storiesLoadedMsg:
		m.loadingStories = false
		m.err = msg.err
		m.stories = nil
		for _, s := range msg.stories {
			if !s.IsCompleted() {
				m.stories = append(m.stories, s)
			}
		}
		m.selectedStory = 0

	case joinedMsg:
		return m.enterStory(msg)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.loadingStories {
				return m, tea.Quit
			}
			m.showQuitModal = true
			return m, nil
		}
		if m.loadingStories || m.joining || m.err != nil {
			return m, nil
		}

		switch msg.Type {
		case tea.KeyUp:
			if m.selectedStory > 0 {
				m.selectedStory--
			}
		case tea.KeyDown:
			if m.selectedStory < len(m.stories)-1 {
				m.selectedStory++
			}
		case tea.KeyEnter:
			if len(m.stories) == 0 {
				return m, nil
			}
			chosen := m.stories[m.selectedStory]
			if ownCharacter(&chosen, m.api.userID) != nil {
				m.joining = true
				return m, m.joinStory(chosen.ID, "")
			}
			m.phase = phaseNameCharacter
			m.nameInput.Reset()
			m.nameInput.Focus()
			return m, textinput.Blink
		}
	}

	return m, nil
}

func (m ConsoleUI) updateNameModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case joinedMsg:
		return m.enterStory(msg)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEsc:
			m.phase = phasePickStory
			m.err = nil
			return m, nil
		case tea.KeyEnter:
			name := strings.TrimSpace(m.nameInput.Value())
			if name == "" || m.joining {
				return m, nil
			}
			m.joining = true
			m.err = nil
			return m, m.joinStory(m.stories[m.selectedStory].ID, name)
		}
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m ConsoleUI) enterStory(msg joinedMsg) (tea.Model, tea.Cmd) {
	m.joining = false
	if msg.err != nil {
		m.err = msg.err
		return m, nil
	}

	m.err = nil
	m.story = msg.story
	m.character = msg.character
	m.messages = msg.messages
	m.phase = phasePlaying
	m.layout()
	m.ready = m.width > 0
	m.writeChatContent()
	m.writeSidePanel()
	m.textarea.Focus()

	listen := m.startSSE()
	return m, tea.Batch(textarea.Blink, listen, m.refreshRound())
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			m.stopSSE()
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				m.stopSSE()
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				if m.phase == phasePlaying {
					m.textarea.Focus()
					return m, textarea.Blink
				}
				return m, nil
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Your character stays in the story until you /leave.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderStoryModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder

	switch {
	case m.loadingStories:
		content.WriteString(modalTitleStyle.Render("Loading Stories..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch open stories..."))
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(fmt.Sprintf("%v", m.err)))
		content.WriteString("\n\n")
		content.WriteString("Press Ctrl+C to exit")
	case m.joining:
		content.WriteString(modalTitleStyle.Render("Joining Story..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Gathering the party..."))
	case len(m.stories) == 0:
		content.WriteString(modalTitleStyle.Render("No Open Stories"))
		content.WriteString("\n\n")
		content.WriteString("Create a story through the API first.")
		content.WriteString("\n\n")
		content.WriteString(promptStyle.Render("Press Ctrl+C to exit"))
	default:
		content.WriteString(modalTitleStyle.Render("Select a Story"))
		content.WriteString("\n\n")

		for i, s := range m.stories {
			label := fmt.Sprintf("%s (%d/%d)", s.Title, s.CurrentAuthors, s.MaxAuthors)
			if ownCharacter(&m.stories[i], m.api.userID) != nil {
				label += " *"
			}
			if i == m.selectedStory {
				content.WriteString(modalSelectedItemStyle.Render("▶ " + label))
			} else {
				content.WriteString(modalItemStyle.Render("  " + label))
			}
			content.WriteString("\n")
		}

		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit. * marks stories you are in."))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderNameModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	chosen := m.stories[m.selectedStory]

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Join " + chosen.Title))
	content.WriteString("\n\n")
	content.WriteString(wordwrap.String(chosen.Description, 52))
	content.WriteString("\n\n")
	content.WriteString(m.nameInput.View())
	content.WriteString("\n\n")
	switch {
	case m.joining:
		content.WriteString(loadingStyle.Render("Joining..."))
	case m.err != nil:
		content.WriteString(errorStyle.Render(m.err.Error()))
	default:
		content.WriteString(promptStyle.Render("Enter to join, Esc to go back"))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	switch m.phase {
	case phasePickStory:
		return m.renderStoryModal()
	case phaseNameCharacter:
		return m.renderNameModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth, metaWidth := panelWidths(m.width)

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", chatWidth-4)),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
