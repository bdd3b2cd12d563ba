package avatar

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Source identifies the remote image a profile's avatars are derived from
type Source struct {
	Prefix       string // service label used in filenames
	RemoteUserID string
	ImageURL     string // normal-size profile image
}

type imageRef struct {
	source string
	dir    string
	root   string
	ext    string
	// sized is set when the source carried the _normal suffix, so sibling
	// variants can be addressed by swapping it.
	sized bool
}

// parseImageURL splits .../name_normal.ext into its directory, image root and
// extension. URLs without the suffix are accepted as a single image.
func parseImageURL(raw string) (imageRef, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return imageRef{}, fmt.Errorf("invalid image url %q", raw)
	}

	base := path.Base(u.Path)
	ext := strings.TrimPrefix(path.Ext(base), ".")
	if ext == "" || base == "/" || base == "." {
		return imageRef{}, fmt.Errorf("image url %q has no file extension", raw)
	}

	root := strings.TrimSuffix(base, "."+ext)
	sized := strings.HasSuffix(root, "_"+Normal.String())
	root = strings.TrimSuffix(root, "_"+Normal.String())

	dir := *u
	dir.Path = path.Dir(u.Path)
	dir.RawPath = ""
	dir.RawQuery = ""
	dir.Fragment = ""

	return imageRef{source: raw, dir: strings.TrimRight(dir.String(), "/"), root: root, ext: ext, sized: sized}, nil
}

// url returns the remote address of a variant. The normal variant is always
// the source itself; other variants fall back to it when no siblings exist.
func (r imageRef) url(v Variant) string {
	if v == Normal || !r.sized {
		return r.source
	}
	return fmt.Sprintf("%s/%s_%s.%s", r.dir, r.root, v, r.ext)
}

func (r imageRef) filename(src Source, v Variant) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s", src.Prefix, src.RemoteUserID, r.root, v, r.ext)
}

// MediaType maps an image extension to its MIME type
func MediaType(ext string) string {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
