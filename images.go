package folio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/eringen/folio/content"
	"github.com/eringen/folio/uploads"
)

const jpegQuality = 85

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// processImage decodes an image from src, resizes it to maxWidth when wider,
// and encodes it as JPEG.
func processImage(src io.Reader, maxWidth int) ([]byte, int, int, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if maxWidth > 0 && w > maxWidth {
		newH := h * maxWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w = maxWidth
		h = newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), w, h, nil
}

// uploadName converts a client file name into the stored name. Images are
// re-encoded, so they always end in .jpg.
func uploadName(original string, isImage bool) string {
	original = filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(original))
	base := content.Slugify(strings.TrimSuffix(original, filepath.Ext(original)))
	if base == "" {
		base = "file"
	}
	if isImage {
		return base + ".jpg"
	}
	if ext = content.Slugify(ext); ext != "" {
		return base + "." + ext
	}
	return base
}

// preparedUpload is one multipart file after the image pipeline.
type preparedUpload struct {
	name   string
	data   []byte
	width  int
	height int
}

func (a *App) prepareUpload(fh *multipart.FileHeader, sub content.Subfolder) (preparedUpload, error) {
	if fh.Size > a.Config.MaxUploadSize {
		return preparedUpload{}, fmt.Errorf("%s: file too large", fh.Filename)
	}
	src, err := fh.Open()
	if err != nil {
		return preparedUpload{}, err
	}
	defer src.Close()

	isImage := imageExts[strings.ToLower(filepath.Ext(fh.Filename))]
	if sub != content.ContentFolder && !isImage {
		return preparedUpload{}, fmt.Errorf("%s: only images can be added to %s", fh.Filename, sub)
	}
	if !isImage {
		data, err := io.ReadAll(io.LimitReader(src, a.Config.MaxUploadSize))
		if err != nil {
			return preparedUpload{}, err
		}
		return preparedUpload{name: uploadName(fh.Filename, false), data: data}, nil
	}

	data, w, h, err := processImage(src, a.Config.ImageMaxWidth)
	if err != nil {
		return preparedUpload{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	return preparedUpload{name: uploadName(fh.Filename, true), data: data, width: w, height: h}, nil
}

// decider answers conflicts for file i of a batch from the form:
// "resolve.<i>" decides that file only, "remember.<i>=true" keeps the choice
// for the rest of the batch, and "onConflict" is the fallback.
func decider(c echo.Context, i int, fallback uploads.Choice) uploads.Decider {
	idx := strconv.Itoa(i)
	if choice, ok := uploads.ParseChoice(c.FormValue("resolve." + idx)); ok {
		remember := c.FormValue("remember."+idx) == "true"
		return func(uploads.Conflict) (uploads.Choice, bool, error) {
			return choice, remember, nil
		}
	}
	if fallback != 0 {
		return func(uploads.Conflict) (uploads.Choice, bool, error) {
			return fallback, false, nil
		}
	}
	return nil
}

type uploadResult struct {
	uploads.Placement
	URL string `json:"url,omitempty"`
}

type uploadResponse struct {
	Entry    content.Entry     `json:"entry"`
	Uploaded []uploadResult    `json:"uploaded"`
	Conflict *uploads.Conflict `json:"conflict,omitempty"`
	Resume   *int              `json:"resumeAt,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// handleUpload stores a batch of files in one subfolder of an entry. Every
// file is decoded before any is written, so a bad file rejects the batch
// with 400. A conflict without a decision stops the batch with 409; the
// client resends the remaining files, starting at resumeAt, with
// "resolve.0" set. Files placed before a stop are attached either way.
func (a *App) handleUpload(c echo.Context) error {
	ctx := c.Request().Context()
	sub, ok := content.ParseSubfolder(c.Param("folder"))
	if !ok {
		return c.JSON(http.StatusBadRequest, apiError{Error: "unknown upload folder"})
	}
	entry, err := a.Entries.Get(ctx, c.Param("id"))
	if err != nil {
		return a.fail(c, err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: "multipart form expected"})
	}
	files := form.File["files"]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, apiError{Error: "no files provided"})
	}

	prepared := make([]preparedUpload, len(files))
	for i, fh := range files {
		if prepared[i], err = a.prepareUpload(fh, sub); err != nil {
			return c.JSON(http.StatusBadRequest, apiError{Error: err.Error()})
		}
	}

	batch := uploads.NewBatch()
	fallback, _ := uploads.ParseChoice(c.FormValue("onConflict"))
	if fallback != 0 && c.FormValue("applyToAll") == "true" {
		batch.ApplyToRemaining(fallback)
	}

	layout := a.Entries.Layout()
	key := entry.Key()
	dir := layout.UploadDir(key, sub)
	resp := uploadResponse{Uploaded: []uploadResult{}}
	meta := make(map[string]content.CaptureMetadata)
	var urls []string
	var saveErr error

	for i, up := range prepared {
		p, err := batch.Save(dir, up.name, up.data, decider(c, i, fallback))
		if err != nil {
			idx := i
			resp.Resume = &idx
			if errors.Is(err, uploads.ErrUndecided) {
				resp.Conflict = p.Conflict
			} else {
				saveErr = err
				resp.Error = err.Error()
			}
			break
		}
		res := uploadResult{Placement: p}
		if !p.Skipped {
			res.URL = layout.FileURL(key, sub, p.Name)
			urls = append(urls, res.URL)
			if up.width > 0 && sub != content.ContentFolder {
				meta[res.URL] = content.CaptureMetadata{Width: up.width, Height: up.height}
			}
		}
		resp.Uploaded = append(resp.Uploaded, res)
	}

	resp.Entry = entry
	if len(urls) > 0 {
		resp.Entry, err = a.Entries.Attach(ctx, entry.ID, key, sub, urls)
		if errors.Is(err, content.ErrKeyChanged) {
			a.discardUploads(dir, resp.Uploaded)
		}
		if err != nil {
			return a.fail(c, err)
		}
		if sub != content.ContentFolder {
			a.Cache.Invalidate()
		}
	}
	for url, m := range meta {
		if err := a.Entries.Sidecar().Put(ctx, url, m); err != nil {
			a.log.Warn("capture metadata not stored", zap.String("url", url), zap.Error(err))
		}
	}

	if saveErr != nil {
		code := statusFor(saveErr)
		if code >= 500 {
			a.log.Error("upload stopped", zap.String("id", entry.ID), zap.Error(saveErr))
		}
		return c.JSON(code, resp)
	}
	if resp.Conflict != nil {
		return c.JSON(http.StatusConflict, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// discardUploads removes the files a batch created under dir after the
// entry moved away from it, then the directories if they are left empty.
// Files the batch overwrote are left in place.
func (a *App) discardUploads(dir string, placed []uploadResult) {
	for _, p := range placed {
		if p.Skipped || p.Conflict != nil || p.Path == "" {
			continue
		}
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.log.Warn("stale upload not removed", zap.String("path", p.Path), zap.Error(err))
		}
	}
	_ = os.Remove(dir)
	_ = os.Remove(filepath.Dir(dir))
}
