package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/iudanet/caseboard/internal/validation"
)

// ErrInvalidShareURL возвращается, когда ссылку не удалось разобрать
var ErrInvalidShareURL = errors.New("invalid share url")

// ShareLink - разобранная ссылка приглашения
type ShareLink struct {
	DocumentID  string
	ServerURL   string
	DisplayName string
	Key         string
}

// BuildShareURL собирает ссылку приглашения вида
//
//	{base}/join/{documentID}?server={serverURL}&name={displayName}#key={key}
//
// Ключ идет только во фрагменте: фрагмент не покидает клиента
// и не попадает в HTTP-запросы и серверные логи.
func BuildShareURL(baseURL, documentID, serverURL, displayName, keyString string) (string, error) {
	if err := validation.ValidateDocumentID(documentID); err != nil {
		return "", err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %w", err)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/join/" + documentID

	q := u.Query()
	q.Set("server", serverURL)
	if displayName != "" {
		q.Set("name", displayName)
	}
	u.RawQuery = q.Encode()
	// Для plaintext-сессии ключа нет - фрагмент не добавляется
	if keyString != "" {
		u.Fragment = "key=" + keyString
	}

	return u.String(), nil
}

// ParseShareURL разбирает ссылку приглашения. Разбор терпим к форме:
// фрагмент принимается и как "key=XXX", и как голое значение ключа.
func ParseShareURL(raw string) (*ShareLink, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidShareURL, err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	var documentID string
	for i, seg := range segments {
		if seg == "join" && i+1 < len(segments) {
			documentID = segments[i+1]
			break
		}
	}
	if documentID == "" {
		return nil, fmt.Errorf("%w: missing /join/{documentID} path", ErrInvalidShareURL)
	}
	if err := validation.ValidateDocumentID(documentID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidShareURL, err)
	}

	key := u.Fragment
	if strings.HasPrefix(key, "key=") {
		key = strings.TrimPrefix(key, "key=")
	}

	return &ShareLink{
		DocumentID:  documentID,
		ServerURL:   u.Query().Get("server"),
		DisplayName: u.Query().Get("name"),
		Key:         key,
	}, nil
}
