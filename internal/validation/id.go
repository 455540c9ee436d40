package validation

import (
	"fmt"
	"regexp"
)

// DocumentIDPattern определяет допустимый формат document id.
// Только латинские буквы, цифры, дефис и нижнее подчеркивание -
// id попадает в имена файлов реплик и в пути share URL.
var DocumentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

const (
	// MaxDocumentIDLen максимальная длина document id
	MaxDocumentIDLen = 64
	// MaxDisplayNameLen максимальная длина отображаемого имени
	MaxDisplayNameLen = 64
)

// ValidateDocumentID проверяет, что document id соответствует требованиям
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if len(id) > MaxDocumentIDLen {
		return fmt.Errorf("document id must not exceed %d characters", MaxDocumentIDLen)
	}

	if !DocumentIDPattern.MatchString(id) {
		return fmt.Errorf("document id can only contain letters (a-z, A-Z), numbers (0-9), hyphens (-) and underscores (_)")
	}

	return nil
}

// ValidateDisplayName проверяет отображаемое имя пира.
// Пустое имя допустимо (пир остается анонимным).
func ValidateDisplayName(name string) error {
	if len(name) > MaxDisplayNameLen {
		return fmt.Errorf("display name must not exceed %d characters", MaxDisplayNameLen)
	}
	return nil
}
