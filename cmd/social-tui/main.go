package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"coursehub/internal/chat"
	"coursehub/internal/feed"
	"coursehub/internal/model"
)

// keystrokeThrottle limits how often the client forwards raw keystrokes;
// the server debounces the actual presence marker.
const keystrokeThrottle = 400 * time.Millisecond

// reconnect backoff bounds (exponential, jittered, capped)
const (
	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 30 * time.Second
)

// --- Styles ---

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	selfSenderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(selfColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
)

// --- WebSocket plumbing ---

type wsConnected struct{ conn *websocket.Conn }

type wsIncoming struct{ data []byte }

type wsError struct{ err error }

type wsReconnect struct{}

type postsLoaded struct {
	posts []model.Post
	err   error
}

func connectCmd(wsURL, userID string) tea.Cmd {
	return func() tea.Msg {
		url := wsURL + "?user=" + userID
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return wsError{err: err}
		}
		return wsConnected{conn: conn}
	}
}

func listenCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wsError{err: err}
		}
		return wsIncoming{data: data}
	}
}

func fetchPostsCmd(baseURL string) tea.Cmd {
	return func() tea.Msg {
		resp, err := http.Get(baseURL + "/posts")
		if err != nil {
			return postsLoaded{err: err}
		}
		defer resp.Body.Close()

		var posts []model.Post
		if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
			return postsLoaded{err: err}
		}
		return postsLoaded{posts: posts}
	}
}

// --- Main model ---

type pane int

const (
	paneChat pane = iota
	paneFeed
)

type tuiModel struct {
	baseURL string
	wsURL   string
	userID  string

	conn           *websocket.Conn
	connected      bool
	isReconnecting bool
	reconnectCount int
	err            error

	messages    []model.Message
	typingUsers []string

	posts        []model.Post
	selectedPost int
	viewer       *feed.Viewer

	focusedPane  pane
	input        textinput.Model
	chatViewport viewport.Model
	lastKeySent  time.Time

	width  int
	height int
}

func newModel(baseURL, userID string) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 500

	wsURL := strings.Replace(baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	return tuiModel{
		baseURL:      baseURL,
		wsURL:        wsURL + "/ws",
		userID:       userID,
		input:        ti,
		chatViewport: viewport.New(78, 16),
		focusedPane:  paneChat,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.wsURL, m.userID), fetchPostsCmd(m.baseURL))
}

// sendEvent forwards one client event over the session socket.
func (m *tuiModel) sendEvent(typ, text string) tea.Cmd {
	conn := m.conn
	if conn == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{"type": typ, "text": text})
	return func() tea.Msg {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return wsError{err: err}
		}
		return nil
	}
}

// reconnectDelay computes the supervised-resubscribe backoff: capped
// exponential growth plus jitter so a flapping server is not hammered
// by every client in lockstep.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase
	for i := 0; i < attempt && d < reconnectMax; i++ {
		d *= 2
	}
	if d > reconnectMax {
		d = reconnectMax
	}
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit

		case "tab":
			// ペイン切り替え。チャット入力から離れる＝blur
			if m.focusedPane == paneChat {
				m.focusedPane = paneFeed
				m.input.Blur()
				cmds = append(cmds, m.sendEvent("blur", ""))
			} else {
				m.focusedPane = paneChat
				m.viewerClose()
				m.input.Focus()
			}
			return m, tea.Batch(cmds...)
		}

		if m.focusedPane == paneFeed {
			return m.updateFeed(msg)
		}
		return m.updateChat(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpWidth := m.width - 4
		if vpWidth < 20 {
			vpWidth = 20
		}
		vpHeight := m.height - 8
		if vpHeight < 5 {
			vpHeight = 5
		}
		m.chatViewport = viewport.New(vpWidth, vpHeight)
		m.input.Width = vpWidth - 4
		m.refreshChatViewport()

	case wsConnected:
		m.conn = msg.conn
		m.connected = true
		m.isReconnecting = false
		m.reconnectCount = 0
		m.err = nil
		cmds = append(cmds, listenCmd(m.conn))

	case wsError:
		m.connected = false
		m.conn = nil
		m.isReconnecting = true
		m.reconnectCount++
		m.err = msg.err
		delay := reconnectDelay(m.reconnectCount)
		cmds = append(cmds, tea.Tick(delay, func(time.Time) tea.Msg {
			return wsReconnect{}
		}))

	case wsReconnect:
		cmds = append(cmds, connectCmd(m.wsURL, m.userID))

	case wsIncoming:
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.data, &head); err == nil {
			switch head.Type {
			case "messages":
				var ev struct {
					Messages []model.Message `json:"messages"`
				}
				if err := json.Unmarshal(msg.data, &ev); err == nil {
					m.messages = ev.Messages
					m.refreshChatViewport()
				}
			case "typing":
				var ev struct {
					Users []string `json:"users"`
				}
				if err := json.Unmarshal(msg.data, &ev); err == nil {
					m.typingUsers = ev.Users
				}
			}
		}
		if m.conn != nil {
			cmds = append(cmds, listenCmd(m.conn))
		}

	case postsLoaded:
		if msg.err == nil {
			m.posts = msg.posts
			if m.selectedPost >= len(m.posts) {
				m.selectedPost = 0
			}
		}
	}

	return m, tea.Batch(cmds...)
}

func (m tuiModel) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if msg.String() == "enter" {
		text := m.input.Value()
		if strings.TrimSpace(text) != "" {
			m.input.SetValue("")
			cmds = append(cmds, m.sendEvent("send", text))
		}
		return m, tea.Batch(cmds...)
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	// 文字が変わったときだけキーストロークを通知（送信はスロットル付き）
	if m.input.Value() != before && time.Since(m.lastKeySent) > keystrokeThrottle {
		m.lastKeySent = time.Now()
		cmds = append(cmds, m.sendEvent("keystroke", ""))
	}

	var vpCmd tea.Cmd
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	cmds = append(cmds, vpCmd)
	return m, tea.Batch(cmds...)
}

func (m tuiModel) updateFeed(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.viewerOpen() {
			return m, nil
		}
		if m.selectedPost > 0 {
			m.selectedPost--
		}
	case "down", "j":
		if m.viewerOpen() {
			return m, nil
		}
		if m.selectedPost < len(m.posts)-1 {
			m.selectedPost++
		}
	case "enter", "o":
		if !m.viewerOpen() && m.selectedPost < len(m.posts) {
			images := m.posts[m.selectedPost].Images
			if len(images) > 0 {
				v := feed.NewViewer(images)
				if err := v.Open(0); err == nil {
					m.viewer = v
				}
			}
		}
	case "right", "l":
		if m.viewerOpen() {
			m.viewer.Next()
		}
	case "left", "h":
		if m.viewerOpen() {
			m.viewer.Prev()
		}
	case "esc", "q":
		m.viewerClose()
	case "r":
		if !m.viewerOpen() {
			return m, fetchPostsCmd(m.baseURL)
		}
	}
	return m, nil
}

func (m *tuiModel) viewerOpen() bool {
	return m.viewer != nil && m.viewer.IsOpen()
}

func (m *tuiModel) viewerClose() {
	if m.viewer != nil {
		m.viewer.Close()
		m.viewer = nil
	}
}

func (m *tuiModel) refreshChatViewport() {
	var b strings.Builder
	for _, msg := range m.messages {
		style := senderStyle
		ts := msg.Timestamp.Local().Format("15:04")
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			mutedStyle.Render("["+ts+"]"),
			style.Render(msg.Sender+":"),
			msg.Text,
		))
	}
	m.chatViewport.SetContent(b.String())
	m.chatViewport.GotoBottom()
}

func (m tuiModel) View() string {
	var b strings.Builder

	header := titleStyle.Render("💬 coursehub")
	status := mutedStyle.Render("connected")
	if !m.connected {
		if m.isReconnecting {
			status = errorStyle.Render(fmt.Sprintf("reconnecting (attempt %d)...", m.reconnectCount))
		} else {
			status = errorStyle.Render("offline")
		}
	}
	b.WriteString(header + "  " + status + "\n\n")

	if m.focusedPane == paneFeed {
		b.WriteString(m.viewFeed())
	} else {
		b.WriteString(m.viewChat())
	}

	b.WriteString("\n" + mutedStyle.Render("tab: chat/feed  ·  ctrl+c: quit"))
	return b.String()
}

func (m tuiModel) viewChat() string {
	var b strings.Builder
	b.WriteString(boxStyle.Render(m.chatViewport.View()) + "\n")

	// "A is typing..." / "A, B are typing..."
	if line := chat.Indicator(m.typingUsers); line != "" {
		b.WriteString(mutedStyle.Render(line) + "\n")
	}

	b.WriteString(m.input.View() + "\n")
	return b.String()
}

func (m tuiModel) viewFeed() string {
	var b strings.Builder

	if m.viewerOpen() {
		post := m.posts[m.selectedPost]
		b.WriteString(senderStyle.Render(post.Sender) + "  " + post.Text + "\n\n")
		b.WriteString(boxStyle.Render(fmt.Sprintf("🖼  %s", m.viewer.Current())) + "\n")
		counter := fmt.Sprintf("image %d/%d", m.viewer.Index()+1, len(post.Images))
		if m.viewer.HasControls() {
			counter = "‹ " + counter + " ›  (←/→ navigate, esc close)"
		} else {
			counter += "  (esc close)"
		}
		b.WriteString(mutedStyle.Render(counter) + "\n")
		return b.String()
	}

	if len(m.posts) == 0 {
		b.WriteString(mutedStyle.Render("No posts yet. Press r to refresh.") + "\n")
		return b.String()
	}

	for i, post := range m.posts {
		cursor := "  "
		style := senderStyle
		if i == m.selectedPost {
			cursor = "❯ "
			style = selfSenderStyle
		}
		line := fmt.Sprintf("%s%s  %s", cursor, style.Render(post.Sender), post.Text)
		if len(post.Images) > 0 {
			line += mutedStyle.Render(fmt.Sprintf("  [%d image(s), enter to view]", len(post.Images)))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "coursehub server base URL")
	userID := flag.String("user", "", "user id to chat as")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: social-tui --user <id> [--server <url>]")
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(*serverURL, *userID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
