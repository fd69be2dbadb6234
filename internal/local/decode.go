package local

import (
	"fmt"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// decode takes ownership of src; the returned streamer closes it.
func decode(src *Source) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)

	switch src.Format {
	case formatMP3:
		streamer, format, err = mp3.Decode(src)
	case formatFLAC:
		// Skip ID3v2 tag if present (some taggers add it to FLAC files)
		if err = skipID3v2(src); err == nil {
			streamer, format, err = flac.Decode(src)
		}
	case formatWAV:
		streamer, format, err = wav.Decode(src)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, src.Format)
	}
	if err != nil {
		src.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", src.Name, err)
	}
	return streamer, format, nil
}

// skipID3v2 skips an ID3v2 tag if present at the beginning of the stream.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	if n < 10 || string(header[0:3]) != "ID3" {
		_, err = r.Seek(0, io.SeekStart)
		return err
	}

	// ID3v2 size is a syncsafe integer in bytes 6-9, seven bits per byte
	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
	_, err = r.Seek(10+size, io.SeekStart)
	return err
}
