// Package console is the terminal operator console. It renders the state
// held by a syncagent.Agent and sends through it.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/console/views"
	"github.com/skdvlpr/gomercatocrm/internal/jid"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/syncagent"
)

const (
	pageChats    = "chats"
	pageChat     = "chat"
	pageAuth     = "auth"
	pageContacts = "contacts"

	statusInterval = 5 * time.Second
	flashFor       = 5 * time.Second
)

// Options configure an App.
type Options struct {
	Session    string
	Sync       syncagent.Config
	LoginPoll  time.Duration
	LoginTries int
	Logger     *zap.Logger
}

// App is the console shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	keys     *Keymap
	prompt   *Prompt
	root     *tview.Flex
	bottom   *tview.Flex
	chatList *views.ChatList
	contacts *views.ContactList
	msgView  *views.MessageView
	composer *views.Composer
	auth     *views.AuthView
	bar      *views.StatusBar

	client *syncagent.Client
	agent  *syncagent.Agent
	login  *syncagent.LoginPoller
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	session    string
	bridge     status.State
	flash      string
	flashUntil time.Time
	authActive bool
}

// New builds the console for the daemon behind client.
func New(client *syncagent.Client, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := DefaultTheme()
	theme.Apply()

	a := &App{
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
		keys:     NewKeymap(),
		prompt:   NewPrompt(theme),
		chatList: views.NewChatList(),
		contacts: views.NewContactList(),
		msgView:  views.NewMessageView(),
		composer: views.NewComposer(),
		auth:     views.NewAuthView(),
		bar:      views.NewStatusBar(),
		client:   client,
		agent:    syncagent.New(client, syncagent.NewPushChannel(client), opts.Sync, opts.Logger),
		login:    syncagent.NewLoginPoller(client, opts.LoginPoll, opts.LoginTries, opts.Logger),
		log:      opts.Logger.Named("console"),
		ctx:      ctx,
		cancel:   cancel,
		session:  opts.Session,
		bridge:   status.Booting,
	}
	a.setupKeys()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupKeys() {
	a.keys.Global(Binding{Key: tcell.KeyRune, Rune: ':', Hint: ":cmd", Handler: func() { a.showPrompt(PromptCommand) }})
	a.keys.Global(Binding{Key: tcell.KeyRune, Rune: 'q', Hint: "q:esci", Handler: a.Stop})

	a.keys.Page(pageChats, Binding{Key: tcell.KeyRune, Rune: '/', Hint: "/:cerca", Handler: func() { a.showPrompt(PromptFilter) }})
	a.keys.Page(pageChats, Binding{Key: tcell.KeyRune, Rune: 'r', Hint: "r:aggiorna", Handler: a.agent.Refresh})
	a.keys.Page(pageChats, Binding{Key: tcell.KeyRune, Rune: 'c', Hint: "c:contatti", Handler: a.loadContacts})

	a.keys.Page(pageContacts, Binding{Key: tcell.KeyRune, Rune: '/', Hint: "/:cerca", Handler: func() { a.showPrompt(PromptFilter) }})
	a.keys.Page(pageContacts, Binding{Key: tcell.KeyEscape, Hint: "esc:indietro", Handler: func() { a.showPage(pageChats) }})

	a.keys.Page(pageChat, Binding{Key: tcell.KeyRune, Rune: 'i', Hint: "i:scrivi", Handler: func() { a.app.SetFocus(a.composer) }})
	a.keys.Page(pageChat, Binding{Key: tcell.KeyEscape, Hint: "esc:indietro", Handler: a.closeChat})

	a.keys.Page(pageAuth, Binding{Key: tcell.KeyRune, Rune: 'r', Hint: "r:riprova", Handler: a.startAuth})
	a.keys.Page(pageAuth, Binding{Key: tcell.KeyEscape, Hint: "esc:indietro", Handler: func() { a.showPage(pageChats) }})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(int, int) {
		if id := a.chatList.SelectedChat(); id != "" {
			a.openChat(id)
		}
	})

	a.contacts.SetSelectedFunc(func(int, int) {
		if c, ok := a.contacts.SelectedContact(); ok {
			a.openChat(c.ID)
		}
	})

	a.composer.SetOnSend(func(text string) {
		chatID := a.agent.Snapshot().ChatID
		if chatID == "" {
			return
		}
		a.agent.Send(chatID, text)
	})
	a.composer.SetOnEscape(func() { a.app.SetFocus(a.msgView) })

	a.prompt.SetOnChange(func(mode PromptMode, text string) {
		if mode == PromptFilter {
			a.applyFilter(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode PromptMode, text string) {
		a.hidePrompt()
		if mode == PromptCommand {
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == PromptFilter {
			a.applyFilter("")
		}
		a.hidePrompt()
	})
}

func (a *App) setupLayout() {
	chat := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, chat, true, false)
	a.pages.AddPage(pageAuth, a.auth, true, false)
	a.pages.AddPage(pageContacts, a.contacts, true, false)

	a.bottom = tview.NewFlex().SetDirection(tview.FlexRow).AddItem(a.bar, 1, 0, false)
	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.bottom, 1, 0, false)
	a.app.SetRoot(a.root, true)

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		// Inputs get every key; their own done funcs handle Enter and Esc.
		switch a.app.GetFocus().(type) {
		case *views.Composer, *Prompt, *tview.InputField:
			return ev
		}
		page, _ := a.pages.GetFrontPage()
		if a.keys.Handle(page, ev) {
			return nil
		}
		return ev
	})
}

func (a *App) showPage(page string) {
	a.pages.SwitchToPage(page)
	switch page {
	case pageChats:
		a.app.SetFocus(a.chatList)
	case pageChat:
		a.app.SetFocus(a.composer)
	case pageAuth:
		a.app.SetFocus(a.auth)
	case pageContacts:
		a.app.SetFocus(a.contacts)
	}
	a.renderStatus()
}

// applyFilter narrows the list on the front page.
func (a *App) applyFilter(text string) {
	if page, _ := a.pages.GetFrontPage(); page == pageContacts {
		a.contacts.SetFilter(text)
		return
	}
	a.chatList.SetFilter(text)
	a.chatList.Update(a.agent.Snapshot().Chats)
}

// loadContacts fetches the address book and shows it.
func (a *App) loadContacts() {
	go func() {
		contacts, err := a.client.Contacts(a.ctx)
		if err != nil {
			a.setFlash("contatti non disponibili: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.contacts.Update(contacts)
			a.showPage(pageContacts)
		})
	}()
}

func (a *App) showPrompt(mode PromptMode) {
	a.prompt.Activate(mode)
	a.bottom.Clear().
		AddItem(a.prompt, 1, 0, true).
		AddItem(a.bar, 1, 0, false)
	a.root.ResizeItem(a.bottom, 2, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.bottom.Clear().AddItem(a.bar, 1, 0, false)
	a.root.ResizeItem(a.bottom, 1, 0)
	page, _ := a.pages.GetFrontPage()
	a.showPage(page)
}

func (a *App) openChat(chatID string) {
	a.msgView.SetChatName(a.chatList.ChatName(chatID))
	a.msgView.SetNotice("")
	a.msgView.Update(nil, false)
	a.agent.OpenChat(chatID)
	a.showPage(pageChat)
}

func (a *App) closeChat() {
	a.agent.CloseChat()
	a.showPage(pageChats)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Canonical() {
	case CmdQuit:
		a.Stop()
	case CmdRefresh:
		a.agent.Refresh()
	case CmdLogin:
		a.startAuth()
	case CmdContacts:
		a.loadContacts()
	case CmdOpen:
		id := jid.ChatID(cmd.Args)
		if id == "" {
			a.setFlash("uso: :open <numero o chat id>")
			return
		}
		a.openChat(id)
	case CmdLogout:
		go func() {
			if err := a.client.Logout(a.ctx); err != nil {
				a.setFlash("logout fallito: " + err.Error())
				return
			}
			a.setFlash("sessione disconnessa")
			a.refreshStatus()
		}()
	default:
		a.setFlash(fmt.Sprintf("comando sconosciuto: %s", cmd.Name))
	}
}

func (a *App) setFlash(msg string) {
	a.mu.Lock()
	a.flash = msg
	a.flashUntil = time.Now().Add(flashFor)
	a.mu.Unlock()
	a.app.QueueUpdateDraw(a.renderStatus)
}

// renderStatus must run on the UI goroutine.
func (a *App) renderStatus() {
	v := a.agent.Snapshot()
	page, _ := a.pages.GetFrontPage()

	a.mu.Lock()
	flash := a.flash
	if time.Now().After(a.flashUntil) {
		flash = ""
	}
	if flash == "" && v.LastError != "" && v.Offline {
		flash = v.LastError
	}
	s := views.Status{
		Session:     a.session,
		Bridge:      string(a.bridge),
		Sync:        string(v.State),
		PollingOnly: v.PollingOnly,
		Offline:     v.Offline,
		Flash:       flash,
		Hints:       a.keys.Hints(page),
	}
	a.mu.Unlock()
	a.bar.Update(s)
}

// render copies the agent's view into the widgets.
func (a *App) render() {
	v := a.agent.Snapshot()
	a.chatList.Update(v.Chats)
	if page, _ := a.pages.GetFrontPage(); page == pageChat && v.ChatID != "" {
		notice := ""
		if v.HistoryPartial {
			notice = "Cronologia non disponibile, mostro solo l'ultimo messaggio."
		}
		a.msgView.SetNotice(notice)
		a.msgView.Update(v.Messages, v.Typing)
	}
	a.renderStatus()
}

func (a *App) watchAgent() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.agent.Changes():
			a.app.QueueUpdateDraw(a.render)
		}
	}
}

func (a *App) watchStatus() {
	a.refreshStatus()
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refreshStatus()
		}
	}
}

func (a *App) refreshStatus() {
	st, err := a.client.Status(a.ctx)
	a.mu.Lock()
	if err != nil {
		a.bridge = status.Unreachable
	} else {
		a.bridge = st.State
	}
	needsAuth := err == nil && st.State == status.AuthRequired && !a.authActive
	a.mu.Unlock()

	if needsAuth {
		a.startAuth()
		return
	}
	a.app.QueueUpdateDraw(a.renderStatus)
}

// startAuth runs one login attempt. Only one runs at a time.
func (a *App) startAuth() {
	a.mu.Lock()
	if a.authActive {
		a.mu.Unlock()
		return
	}
	a.authActive = true
	a.mu.Unlock()

	a.app.QueueUpdateDraw(func() {
		a.auth.ShowMessage("Avvio della sessione…")
		a.showPage(pageAuth)
	})

	go func() {
		err := a.login.Run(a.ctx, func(u syncagent.LoginUpdate) {
			a.app.QueueUpdateDraw(func() { a.showLogin(u) })
		})
		a.mu.Lock()
		a.authActive = false
		a.mu.Unlock()

		switch {
		case err == nil:
			a.agent.Refresh()
			a.refreshStatus()
			a.app.QueueUpdateDraw(func() { a.showPage(pageChats) })
		case errors.Is(err, syncagent.ErrLoginExpired):
			a.log.Info("login window expired")
		case a.ctx.Err() == nil:
			a.setFlash("login fallito: " + err.Error())
		}
	}()
}

func (a *App) showLogin(u syncagent.LoginUpdate) {
	switch u.Phase {
	case syncagent.PhaseQR:
		a.auth.ShowQR(u.QR.Token, u.Attempt, u.MaxAttempts)
	case syncagent.PhaseConnecting:
		a.auth.ShowMessage(fmt.Sprintf("Connessione in corso… (%d/%d)", u.Attempt, u.MaxAttempts))
	case syncagent.PhaseReady:
		a.auth.ShowMessage("Collegato.")
	case syncagent.PhaseRetryRequired:
		a.auth.ShowMessage("Codice scaduto. Premi r per riprovare.")
	}
}

// Run blocks until the console is closed.
func (a *App) Run() error {
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		if err := a.agent.Run(a.ctx); err != nil {
			a.log.Error("sync agent stopped", zap.Error(err))
		}
	}()
	go a.watchAgent()
	go a.watchStatus()

	err := a.app.Run()
	a.cancel()
	<-agentDone
	return err
}

// Stop closes the console.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
