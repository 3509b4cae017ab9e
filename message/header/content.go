package header

import (
	"strings"

	"github.com/zostay/go-mailbuild/message/header/param"
)

// GetParamValue returns the named field parsed as a param.Value. Parameter
// values written as RFC 2231 extended values or as RFC 2047 encoded words are
// decoded.
//
// It returns ErrNoSuchField if the field is missing or the parse error if the
// field body is malformed.
func (h *Header) GetParamValue(name string) (*param.Value, error) {
	body, err := h.Get(name)
	if err != nil {
		return nil, err
	}

	pv, err := param.Parse(body)
	if err != nil {
		return nil, err
	}

	var changes []param.Modifier
	for _, p := range pv.Params() {
		if !strings.Contains(p.Value, "=?") {
			continue
		}
		if v, err := Decode(p.Value); err == nil {
			changes = append(changes, param.Set(param.Bare(p.Name, v)))
		}
	}
	if len(changes) == 0 {
		return pv, nil
	}
	return param.Modify(pv, changes...), nil
}

// SetParamValue replaces the named field with the rendered param.Value.
func (h *Header) SetParamValue(name string, v *param.Value) {
	h.Set(name, v.String())
}

// GetContentType returns the Content-Type field as a param.Value.
func (h *Header) GetContentType() (*param.Value, error) {
	return h.GetParamValue(ContentType)
}

// SetContentType replaces the Content-Type field.
func (h *Header) SetContentType(v *param.Value) {
	h.SetParamValue(ContentType, v)
}

// GetMediaType returns only the media type of the Content-Type field.
func (h *Header) GetMediaType() (string, error) {
	v, err := h.GetContentType()
	if err != nil {
		return "", err
	}
	return v.MediaType(), nil
}

// GetContentDisposition returns the Content-Disposition field as a
// param.Value.
func (h *Header) GetContentDisposition() (*param.Value, error) {
	return h.GetParamValue(ContentDisposition)
}

// SetContentDisposition replaces the Content-Disposition field. A new field is
// placed ahead of Content-Transfer-Encoding when that field is present.
func (h *Header) SetContentDisposition(v *param.Value) {
	if h.Has(ContentDisposition) {
		h.SetParamValue(ContentDisposition, v)
		return
	}
	h.InsertBefore(ContentTransferEncoding, ContentDisposition, v.String())
}

// GetTransferEncoding returns the Content-Transfer-Encoding field.
func (h *Header) GetTransferEncoding() (string, error) {
	return h.Get(ContentTransferEncoding)
}

// SetTransferEncoding replaces the Content-Transfer-Encoding field.
func (h *Header) SetTransferEncoding(cte string) {
	h.Set(ContentTransferEncoding, cte)
}
