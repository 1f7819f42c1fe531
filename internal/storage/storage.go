// Package storage is the blob backend consumed by the upload and processing
// stages. Paths are forward-slash relative keys like "audio/recording.wav".
package storage

import "io"

type Store interface {
	Exists(path string) bool
	Move(src, dst string) error
	ReadStream(path string) (io.ReadCloser, error)
	Put(path string, r io.Reader) error
	Delete(path string) error
	MimeType(path string) (string, error)
	Size(path string) (int64, error)
}
