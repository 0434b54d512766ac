package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/skdvlpr/gomercatocrm/internal/chatlist"
)

// ContactList is the address book table. Selecting a row opens its chat.
type ContactList struct {
	*tview.Table
	all      []chatlist.Contact
	contacts []chatlist.Contact
	filter   string
}

func NewContactList() *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Contatti ")
	return &ContactList{Table: table}
}

// Update renders contacts through the current filter.
func (cl *ContactList) Update(contacts []chatlist.Contact) {
	cl.all = contacts
	cl.render()
}

// SetFilter narrows the list to contacts whose name or number contains query.
func (cl *ContactList) SetFilter(query string) {
	cl.filter = strings.TrimSpace(query)
	cl.render()
}

func (cl *ContactList) render() {
	cl.contacts = filterContacts(cl.all, cl.filter)
	cl.Clear()
	cl.SetCell(0, 0, tview.NewTableCell(" Nome").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Numero").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	for i, c := range cl.contacts {
		name := sanitize(c.DisplayName)
		if c.IsGroup {
			name = "👥 " + name
		}
		cl.SetCell(i+1, 0, tview.NewTableCell(" "+name).SetExpansion(1))
		cl.SetCell(i+1, 1, tview.NewTableCell(" "+sanitize(c.PhoneNumber)).SetMaxWidth(18))
	}
	if len(cl.contacts) > 0 {
		cl.Select(1, 0)
	}
	cl.SetTitle(fmt.Sprintf(" Contatti (%d) ", len(cl.contacts)))
}

// SelectedContact returns the highlighted contact.
func (cl *ContactList) SelectedContact() (chatlist.Contact, bool) {
	row, _ := cl.GetSelection()
	if i := row - 1; i >= 0 && i < len(cl.contacts) {
		return cl.contacts[i], true
	}
	return chatlist.Contact{}, false
}

func filterContacts(contacts []chatlist.Contact, query string) []chatlist.Contact {
	if query == "" {
		return contacts
	}
	q := strings.ToLower(query)
	var out []chatlist.Contact
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.DisplayName), q) || strings.Contains(c.PhoneNumber, q) {
			out = append(out, c)
		}
	}
	return out
}
