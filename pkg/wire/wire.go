// Package wire содержит типы протокола relay, общие для клиента и сервера.
//
// Relay протокол: пиры подключаются по websocket к {serverUrl}/room/{roomId}.
// Binary сообщения - непрозрачные кадры updates документа (при включенном
// шифровании: nonce || ciphertext || auth_tag); relay никогда их не
// интерпретирует, только ретранслирует подписчикам той же комнаты.
// Text сообщения - JSON control кадры: presence и sync-рукопожатие.
package wire

// Типы control сообщений
const (
	// ControlHello - анонс присутствия пира в комнате.
	// Ретранслируется остальным участникам.
	ControlHello = "hello"

	// ControlPeers - количество других участников комнаты.
	// Отправляется самим relay при каждом изменении состава комнаты.
	ControlPeers = "peers"

	// ControlStateRequest - запрос полного состояния документа.
	// Ретранслируется остальным участникам; каждый отвечает
	// binary-кадром полного состояния.
	ControlStateRequest = "state_request"
)

// Control представляет JSON control сообщение relay протокола
type Control struct {
	Type   string `json:"type"`              // Type тип сообщения (см. константы)
	NodeID string `json:"node_id,omitempty"` // NodeID идентификатор узла-отправителя
	Name   string `json:"name,omitempty"`    // Name опциональное отображаемое имя пира
	Peers  int    `json:"peers"`             // Peers число других участников (для ControlPeers)
}
