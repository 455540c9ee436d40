package session

// Mode описывает режим текущей сессии
type Mode string

const (
	// ModeNone - ни один документ не открыт
	ModeNone Mode = ""
	// ModeLocal - документ открыт без репликации
	ModeLocal Mode = "local"
	// ModeShared - документ открыт и реплицируется через relay
	ModeShared Mode = "shared"
)

// State - наблюдаемое состояние сессии. Значение-снимок: каждое
// уведомление несет полную копию, слушатели ничего не мутируют.
type State struct {
	Err        error
	Mode       Mode
	DocumentID string
	RoomID     string
	PeerCount  int
	Connected  bool
	Syncing    bool
}

// Active сообщает, открыт ли какой-либо документ
func (s State) Active() bool {
	return s.Mode != ModeNone
}
