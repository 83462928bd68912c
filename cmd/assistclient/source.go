package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// wavFormat is the part of a PCM WAV header the client checks.
type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// readWAVHeader consumes and validates the header of a PCM WAV stream.
func readWAVHeader(r io.Reader) (wavFormat, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return wavFormat{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("not a valid WAV file")
	}
	f := wavFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 { // PCM
		return f, errors.New("only PCM format supported")
	}
	return f, nil
}

// audioChunks splits the PCM payload into fixed-size chunks.
func audioChunks(r io.Reader, size int) ([][]byte, error) {
	var out [][]byte
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			out = append(out, buf[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// textChunks returns one chunk per non-blank line. The mock transcriber
// treats text payloads as their own transcript.
func textChunks(r io.Reader) ([][]byte, error) {
	var out [][]byte
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, []byte(line))
		}
	}
	return out, sc.Err()
}
