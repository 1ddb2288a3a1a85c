package livestore

import (
	"github.com/harentsoaR/gestorpro/internal/models"
	"github.com/harentsoaR/gestorpro/internal/store"
)

// Page names double as the keys of the unread flags.
const (
	PageDashboard    = "Dashboard"
	PageAppointments = "Agendamentos"
	PagePendencies   = "Pendências"
	PageNewRequests  = "Novas Solicitações"
	PageReports      = "Relatórios"
	PageUsers        = "Usuários"
	PageSettings     = "Configurações"
	PageProfile      = "Meu Perfil"
	PageFinancial    = "Financeiro"
)

var Pages = []string{
	PageDashboard, PageAppointments, PagePendencies, PageNewRequests,
	PageReports, PageUsers, PageSettings, PageProfile, PageFinancial,
}

const (
	MsgGeneric          = "O sistema foi atualizado com novas informações!"
	MsgRequestsAndAppts = "Novas solicitações e agendamentos recebidos!"
	MsgNewRequests      = "Nova(s) solicitação(ões) recebida(s)!"
	MsgNewAppointments  = "Novo(s) agendamento(s) para vistoria!"
	MsgNewPendencies    = "Nova(s) pendência(s) registrada(s)!"
)

// Outcome is what one change batch means to the user.
type Outcome struct {
	Notify  bool
	Message string
	Pages   []string
}

// DiffAppointments classifies a batch against the mirror held before it.
// An added record in the requested status is a new request. An added record
// in any other status, or a record that moved away from it, is a new
// appointment.
func DiffAppointments(prev []store.Document, changes []store.Change) Outcome {
	if len(changes) == 0 {
		return Outcome{}
	}

	before := make(map[string]string, len(prev))
	for _, d := range prev {
		before[d.ID] = d.String(models.FieldStatus)
	}

	var newRequest, newAppointment bool
	for _, c := range changes {
		status := c.Doc.String(models.FieldStatus)
		switch c.Type {
		case store.Added:
			if status == models.StatusRequested {
				newRequest = true
			} else {
				newAppointment = true
			}
		case store.Modified:
			old, known := before[c.Doc.ID]
			if known && old == models.StatusRequested && status != models.StatusRequested {
				newAppointment = true
			}
		}
	}

	switch {
	case newRequest && newAppointment:
		return Outcome{Notify: true, Message: MsgRequestsAndAppts, Pages: []string{PageNewRequests, PageAppointments}}
	case newRequest:
		return Outcome{Notify: true, Message: MsgNewRequests, Pages: []string{PageNewRequests}}
	case newAppointment:
		return Outcome{Notify: true, Message: MsgNewAppointments, Pages: []string{PageAppointments}}
	default:
		return Outcome{Notify: true, Message: MsgGeneric}
	}
}

func DiffPendencies(changes []store.Change) Outcome {
	if len(changes) == 0 {
		return Outcome{}
	}
	for _, c := range changes {
		if c.Type == store.Added {
			return Outcome{Notify: true, Message: MsgNewPendencies, Pages: []string{PagePendencies}}
		}
	}
	return Outcome{Notify: true, Message: MsgGeneric}
}

// DiffGeneric is used for the financial collections.
func DiffGeneric(changes []store.Change) Outcome {
	if len(changes) == 0 {
		return Outcome{}
	}
	return Outcome{Notify: true, Message: MsgGeneric}
}
