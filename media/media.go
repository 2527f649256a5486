// Package media downloads toot attachments and prepares them for mail:
// card image first, then image and video previews, downscaled to the
// configured bounds. A failed download yields a placeholder image naming
// the error so the mail still shows something was attached.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net/url"
	"path"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"toot2mail/email"
	"toot2mail/pkg/toot"
)

// Fetcher downloads a binary resource, sending the given referer.
type Fetcher interface {
	GetBinary(ctx context.Context, rawURL, referer string) ([]byte, error)
}

// Resolver turns a toot's attachments into mail attachments.
type Resolver struct {
	fetcher   Fetcher
	logger    *slog.Logger
	maxWidth  int // 0 disables downscaling
	maxHeight int
}

// New creates a resolver. maxWidth and maxHeight of 0 disable
// downscaling.
func New(fetcher Fetcher, maxWidth, maxHeight int, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher:   fetcher,
		logger:    logger,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
	}
}

// Resolve fetches the card image and the media attachments. Videos are
// represented by their preview image; the full URL is listed in the mail
// body instead.
func (r *Resolver) Resolve(ctx context.Context, t *toot.Toot) []email.Attachment {
	var attachments []email.Attachment
	referer := "https://" + t.Hostname()

	if t.Card != nil && t.Card.Image != "" {
		name := "card_" + fileName(t.Card.Image)
		attachments = append(attachments, r.fetch(ctx, t.Card.Image, name, referer))
	}

	for _, m := range t.MediaAttachments {
		mediaURL := ""
		switch m.Type {
		case "image":
			mediaURL = m.URL
		case "video", "gifv":
			mediaURL = m.PreviewURL
		default:
			continue
		}
		if mediaURL == "" {
			continue
		}
		attachments = append(attachments, r.fetch(ctx, mediaURL, fileName(mediaURL), referer))
	}
	return attachments
}

func (r *Resolver) fetch(ctx context.Context, rawURL, name, referer string) email.Attachment {
	r.logger.Info("Retrieving image", "url", rawURL)
	data, err := r.fetcher.GetBinary(ctx, rawURL, referer)
	if err != nil {
		msg := fmt.Sprintf("Unable to download image %q: %v", rawURL, err)
		r.logger.Warn("Image download failed", "url", rawURL, "error", err)
		return email.Attachment{Filename: name + ".png", Data: r.errorImage(msg)}
	}
	return email.Attachment{Filename: name, Data: r.downscale(data)}
}

// downscale shrinks the image to fit the configured bounds, preserving
// aspect ratio and re-encoding in the original format. Anything that
// cannot be decoded, such as an animated gif or a webp, passes through
// untouched.
func (r *Resolver) downscale(data []byte) []byte {
	if r.maxWidth == 0 || r.maxHeight == 0 {
		return data
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		r.logger.Warn("Unable to downscale image", "error", err)
		return data
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= r.maxWidth && height <= r.maxHeight {
		return data
	}

	scale := min(float64(r.maxWidth)/float64(width), float64(r.maxHeight)/float64(height))
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(width)*scale), int(float64(height)*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, nil)
	case "png":
		err = png.Encode(&buf, dst)
	case "gif":
		err = gif.Encode(&buf, dst, nil)
	default:
		return data
	}
	if err != nil {
		r.logger.Warn("Unable to re-encode downscaled image", "format", format, "error", err)
		return data
	}
	return buf.Bytes()
}

// errorImage renders the error text onto a light grey canvas so the
// failed download is visible in the mail client.
func (r *Resolver) errorImage(text string) []byte {
	width, height := r.maxWidth, r.maxHeight
	if width == 0 || height == 0 {
		width, height = 500, 300
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	lightGrey := color.RGBA{R: 0xd3, G: 0xd3, B: 0xd3, A: 0xff}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: lightGrey}, image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	for i, line := range wrap(text, width/10) {
		drawer.Dot = fixed.P(25, 25+i*20)
		drawer.DrawString(line)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		r.logger.Warn("Unable to encode placeholder image", "error", err)
		return nil
	}
	return buf.Bytes()
}

// fileName extracts the base name of a URL path, ignoring any query.
func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}

// wrap breaks text into lines of at most width characters, on word
// boundaries where possible.
func wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= width:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
