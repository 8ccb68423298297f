package domain

import "errors"

var (
	// ErrNotFound запись отсутствует в хранилище или во внешнем API.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists запись с таким ключом уже существует.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotMusicURL ссылка не относится к поддерживаемым музыкальным платформам.
	ErrNotMusicURL = errors.New("not a music URL")
)
