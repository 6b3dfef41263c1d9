package entity

import (
	"encoding/json"
	"strings"
)

// Action es la variante de la acción pedida por el mensaje del broker.
type Action string

// Acciones soportadas. El campo acao del mensaje se normaliza a minúsculas;
// cualquier otro valor produce ActionUnknown y el mensaje se descarta con ack.
const (
	ActionSubmit  Action = "enviar"
	ActionPoll    Action = "consultar"
	ActionCancel  Action = "cancelar"
	ActionUnknown Action = ""
)

// ActionMessage es el payload JSON de la cola principal.
//
//	{ "id_fatura": 123, "acao": "enviar" }
//	{ "id_fatura": 123, "acao": "consultar", "tentativas": 3 }
//	{ "id_fatura": 123, "acao": "cancelar", "motivo": "Duplicado en sistema" }
type ActionMessage struct {
	ID       FiscalDocumentID `json:"id_fatura"`
	Action   Action           `json:"acao"`
	Attempts int              `json:"tentativas,omitempty"` // solo consultar, >= 1
	Reason   string           `json:"motivo,omitempty"`     // solo cancelar, >= 5 chars
}

// ParseActionMessage decodifica el cuerpo del mensaje. La acción ausente vale
// "enviar" (compatibilidad con publicadores viejos que solo mandan el id) y
// se compara sin distinguir mayúsculas. Un cuerpo no-JSON devuelve error; un
// id faltante se detecta con msg.ID == 0 en el despachador.
func ParseActionMessage(body []byte) (ActionMessage, error) {
	var msg ActionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ActionMessage{}, err
	}
	switch Action(strings.ToLower(string(msg.Action))) {
	case ActionSubmit, "":
		msg.Action = ActionSubmit
	case ActionPoll:
		msg.Action = ActionPoll
	case ActionCancel:
		msg.Action = ActionCancel
	default:
		msg.Action = ActionUnknown
	}
	if msg.Action == ActionPoll && msg.Attempts < 1 {
		msg.Attempts = 1
	}
	return msg, nil
}
