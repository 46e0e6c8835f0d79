// Command flo encodes, decodes and inspects flo audio files.
//
// Usage:
//
//	flo encode [-lossy] [-quality q | -preset n | -bitrate kbps] [-level n] [-analyze] input.wav output.flo
//	flo decode input.flo output.wav
//	flo info file.flo
//	flo metadata [-strip] [-title s] [-artist s] [-album s] [-bpm n] file.flo
//	flo validate file.flo
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	flo "github.com/flo-audio/flo"
	"github.com/flo-audio/flo/analyze"
	"github.com/flo-audio/flo/meta"
)

// Exit codes.
const (
	exitOK = iota
	exitGeneral
	exitArgs
	exitNotFound
	exitUnsupportedInput
	exitEncodeError
	exitDecodeError
)

// exitError carries the process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func fail(code int, err error) *exitError {
	return &exitError{code: code, err: err}
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("flo: ")
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitArgs)
	}
	var err error
	switch os.Args[1] {
	case "encode":
		err = cmdEncode(os.Args[2:])
	case "decode":
		err = cmdDecode(os.Args[2:])
	case "info":
		err = cmdInfo(os.Args[2:])
	case "metadata":
		err = cmdMetadata(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(exitArgs)
	}
	if err != nil {
		log.Printf("%+v", err)
		if e, ok := err.(*exitError); ok {
			os.Exit(e.code)
		}
		os.Exit(exitGeneral)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: flo <encode|decode|info|metadata|validate> [flags] <files>`)
}

func cmdEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	var (
		lossy   = fs.Bool("lossy", false, "use the perceptual transform coder")
		quality = fs.Float64("quality", -1, "lossy quality in [0,1]")
		preset  = fs.Int("preset", -1, "lossy quality preset 0-4")
		bitrate = fs.Int("bitrate", 0, "lossy target bitrate in kbit/s")
		level   = fs.Int("level", 5, "lossless compression level 0-9")
		doAna   = fs.Bool("analyze", false, "store waveform, loudness and spectrum metadata")
		title   = fs.String("title", "", "title tag")
		artist  = fs.String("artist", "", "artist tag")
	)
	if err := fs.Parse(args); err != nil {
		return fail(exitArgs, err)
	}
	if fs.NArg() != 2 {
		return fail(exitArgs, errors.New("encode needs an input WAV and an output path"))
	}
	pcm, params, err := readWAV(fs.Arg(0))
	if err != nil {
		return err
	}

	var md *meta.Metadata
	if *doAna || *title != "" || *artist != "" {
		md = &meta.Metadata{Title: *title, Artist: *artist}
		if *doAna {
			md.WaveformData = analyze.Waveform(pcm, params.SampleRate, params.Channels, 10)
			lufs, lra, peak := analyze.Loudness(pcm, params.SampleRate, params.Channels)
			md.IntegratedLoudnessLUFS = &lufs
			md.LoudnessRangeLU = &lra
			md.TruePeakDBTP = &peak
			md.SpectrumFingerprint = analyze.SpectrumFingerprint(pcm, params.SampleRate, params.Channels)
		}
	}

	var out []byte
	switch {
	case *bitrate > 0:
		out, err = flo.EncodeWithBitrate(pcm, params, *bitrate, md)
	case *lossy || *quality >= 0 || *preset >= 0:
		q := flo.QualityHigh
		if *preset >= 0 {
			q = flo.PresetQuality(*preset)
		}
		if *quality >= 0 {
			q = *quality
		}
		out, err = flo.EncodeLossy(pcm, params, q, md)
	default:
		out, err = flo.EncodeLossless(pcm, params, *level, md)
	}
	if err != nil {
		if errors.Cause(err) == flo.ErrUnsupportedParameter {
			return fail(exitUnsupportedInput, err)
		}
		return fail(exitEncodeError, err)
	}
	if err := os.WriteFile(fs.Arg(1), out, 0644); err != nil {
		return fail(exitGeneral, errors.WithStack(err))
	}
	return nil
}

func cmdDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fail(exitArgs, err)
	}
	if fs.NArg() != 2 {
		return fail(exitArgs, errors.New("decode needs an input flo file and an output path"))
	}
	b, err := readFile(fs.Arg(0))
	if err != nil {
		return err
	}
	info, err := flo.Info(b)
	if err != nil {
		return fail(exitDecodeError, err)
	}
	res, err := flo.Decode(b)
	if err != nil {
		return fail(exitDecodeError, err)
	}
	if err := writeWAV(fs.Arg(1), res, info.BitDepth); err != nil {
		return err
	}
	return nil
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fail(exitArgs, err)
	}
	if fs.NArg() != 1 {
		return fail(exitArgs, errors.New("info needs one flo file"))
	}
	b, err := readFile(fs.Arg(0))
	if err != nil {
		return err
	}
	info, err := flo.Info(b)
	if err != nil {
		return fail(exitDecodeError, err)
	}
	mode := "lossless"
	if info.IsLossy {
		mode = fmt.Sprintf("lossy (quality %.2f)", info.LossyQuality)
	}
	fmt.Printf("sample rate:       %d Hz\n", info.SampleRate)
	fmt.Printf("channels:          %d\n", info.Channels)
	fmt.Printf("bit depth:         %d\n", info.BitDepth)
	fmt.Printf("duration:          %.3f s\n", info.DurationSecs)
	fmt.Printf("total samples:     %d\n", info.TotalSamples)
	fmt.Printf("mode:              %s\n", mode)
	fmt.Printf("compression ratio: %.2f\n", info.CompressionRatio)
	return nil
}

func cmdMetadata(args []string) error {
	fs := flag.NewFlagSet("metadata", flag.ContinueOnError)
	var (
		strip  = fs.Bool("strip", false, "remove all metadata")
		title  = fs.String("title", "", "set the title tag")
		artist = fs.String("artist", "", "set the artist tag")
		album  = fs.String("album", "", "set the album tag")
		bpm    = fs.Uint("bpm", 0, "set the tempo tag")
	)
	if err := fs.Parse(args); err != nil {
		return fail(exitArgs, err)
	}
	if fs.NArg() != 1 {
		return fail(exitArgs, errors.New("metadata needs one flo file"))
	}
	path := fs.Arg(0)
	b, err := readFile(path)
	if err != nil {
		return err
	}

	if *strip {
		out, err := flo.StripMetadata(b)
		if err != nil {
			return fail(exitDecodeError, err)
		}
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fail(exitGeneral, errors.WithStack(err))
		}
		return nil
	}

	if *title != "" || *artist != "" || *album != "" || *bpm != 0 {
		md, err := flo.ReadMetadata(b)
		if err != nil {
			return fail(exitDecodeError, err)
		}
		if *title != "" {
			md.Title = *title
		}
		if *artist != "" {
			md.Artist = *artist
		}
		if *album != "" {
			md.Album = *album
		}
		if *bpm != 0 {
			md.BPM = uint32(*bpm)
		}
		out, err := flo.UpdateMetadata(b, md)
		if err != nil {
			return fail(exitEncodeError, err)
		}
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fail(exitGeneral, errors.WithStack(err))
		}
		return nil
	}

	md, err := flo.ReadMetadata(b)
	if err != nil {
		return fail(exitDecodeError, err)
	}
	printMetadata(md)
	return nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fail(exitArgs, err)
	}
	if fs.NArg() != 1 {
		return fail(exitArgs, errors.New("validate needs one flo file"))
	}
	b, err := readFile(fs.Arg(0))
	if err != nil {
		return err
	}
	ok, err := flo.Validate(b)
	if err != nil {
		return fail(exitDecodeError, err)
	}
	if !ok {
		return fail(exitDecodeError, errors.New("checksum mismatch"))
	}
	fmt.Println("ok")
	return nil
}

func printMetadata(md *meta.Metadata) {
	tag := func(name, v string) {
		if v != "" {
			fmt.Printf("%-12s %s\n", name, v)
		}
	}
	tag("title", md.Title)
	tag("artist", md.Artist)
	tag("album", md.Album)
	tag("album artist", md.AlbumArtist)
	tag("genre", md.Genre)
	tag("date", md.Date)
	tag("key", md.Key)
	if md.BPM != 0 {
		fmt.Printf("%-12s %d\n", "bpm", md.BPM)
	}
	if md.TrackNumber != 0 {
		fmt.Printf("%-12s %d/%d\n", "track", md.TrackNumber, md.TrackTotal)
	}
	if md.IntegratedLoudnessLUFS != nil {
		fmt.Printf("%-12s %.1f LUFS\n", "loudness", *md.IntegratedLoudnessLUFS)
	}
	if len(md.Pictures) > 0 {
		fmt.Printf("%-12s %d attached\n", "pictures", len(md.Pictures))
	}
	for k, v := range md.Extra {
		fmt.Printf("%-12s %v\n", k, v)
	}
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fail(exitNotFound, errors.WithStack(err))
		}
		return nil, fail(exitGeneral, errors.WithStack(err))
	}
	return b, nil
}

// readWAV loads a WAV file as normalized float PCM.
func readWAV(path string) ([]float32, flo.AudioParams, error) {
	var params flo.AudioParams
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, params, fail(exitNotFound, errors.WithStack(err))
		}
		return nil, params, fail(exitGeneral, errors.WithStack(err))
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, params, fail(exitUnsupportedInput, errors.Errorf("invalid WAV file %q", path))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, params, fail(exitUnsupportedInput, errors.WithStack(err))
	}
	params = flo.AudioParams{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	scale := float64(int64(1) << (params.BitDepth - 1))
	pcm := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		pcm[i] = float32(float64(v) / scale)
	}
	return pcm, params, nil
}

// writeWAV stores decoded PCM as an integer WAV file.
func writeWAV(path string, res *flo.DecodeResult, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return fail(exitGeneral, errors.WithStack(err))
	}
	defer f.Close()

	enc := wav.NewEncoder(f, res.SampleRate, bitDepth, res.Channels, 1)
	scale := float64(int64(1) << (bitDepth - 1))
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: res.Channels,
			SampleRate:  res.SampleRate,
		},
		Data:           make([]int, len(res.PCM)),
		SourceBitDepth: bitDepth,
	}
	for i, v := range res.PCM {
		s := math.Round(float64(v) * scale)
		if s > scale-1 {
			s = scale - 1
		}
		if s < -scale {
			s = -scale
		}
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		return fail(exitGeneral, errors.WithStack(err))
	}
	if err := enc.Close(); err != nil {
		return fail(exitGeneral, errors.WithStack(err))
	}
	return nil
}
