package sifen

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/pkg/config"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

func newTestClient(url string) *Client {
	return NewClient(config.SIFENConfig{
		URLRecibeLote:   url,
		URLConsultaLote: url,
		URLEvento:       url,
	}, logger.Nop())
}

func TestSubmitBatchEnvelope(t *testing.T) {
	cred := testCredentials(t)
	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = string(body)
		assert.Equal(t, "application/soap+xml;charset=UTF-8", r.Header.Get("Content-Type"))
		io.WriteString(w, `<?xml version="1.0"?><env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><ns1:dProtConsLote xmlns:ns1="http://ekuatia.set.gov.py/sifen/xsd">12345</ns1:dProtConsLote></env:Envelope>`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).SubmitBatch(context.Background(), "<rLoteDE><rDE/></rLoteDE>", cred)
	require.NoError(t, err)
	assert.Contains(t, resp, "dProtConsLote")

	assert.Contains(t, captured, "<xsd:rEnvioLote>")
	assert.Contains(t, captured, "<xsd:dId>")
	assert.Contains(t, captured, `xmlns:xsd="http://ekuatia.set.gov.py/sifen/xsd"`)

	// El payload viaja como zip+base64 con una sola entrada documento.xml.
	start := strings.Index(captured, "<xsd:xDE>") + len("<xsd:xDE>")
	end := strings.Index(captured, "</xsd:xDE>")
	require.Greater(t, end, start)
	raw, err := base64.StdEncoding.DecodeString(captured[start:end])
	require.NoError(t, err, "xDE debe ser base64 válido")
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err, "xDE debe ser un zip válido")
	require.Len(t, zr.File, 1)
	assert.Equal(t, "documento.xml", zr.File[0].Name)
	f, err := zr.File[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "<rLoteDE><rDE/></rLoteDE>", string(content))
}

func TestQueryBatchEnvelope(t *testing.T) {
	cred := testCredentials(t)
	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = string(body)
		io.WriteString(w, `<?xml version="1.0"?><Envelope><dEstRes>Aprobado</dEstRes></Envelope>`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).QueryBatch(context.Background(), "98765", cred)
	require.NoError(t, err)
	assert.Contains(t, resp, "Aprobado")
	assert.Contains(t, captured, "<xsd:dProtConsLote>98765</xsd:dProtConsLote>")
}

func TestSubmitEventEnvelope(t *testing.T) {
	cred := testCredentials(t)
	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = string(body)
		io.WriteString(w, `<?xml version="1.0"?><Envelope><dCodRes>0501</dCodRes></Envelope>`)
	}))
	defer srv.Close()

	event := `<?xml version='1.0' encoding='utf-8'?><gGroupGesEve><rGesEve/></gGroupGesEve>`
	_, err := newTestClient(srv.URL).SubmitEvent(context.Background(), event, cred)
	require.NoError(t, err)

	assert.Contains(t, captured, `<rEnviEventoDe xmlns="http://ekuatia.set.gov.py/sifen/xsd"`)
	assert.Contains(t, captured, "<dEvReg><gGroupGesEve><rGesEve/></gGroupGesEve></dEvReg>",
		"el evento se incrusta sin declaración XML")
}

func TestPostErrorHTTPConXML(t *testing.T) {
	cred := testCredentials(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `<?xml version="1.0"?><Envelope><dCodRes>0160</dCodRes><dMsgRes>XML Mal Formado.</dMsgRes></Envelope>`)
	}))
	defer srv.Close()

	// 400 con cuerpo XML no es fallo de transporte: la respuesta se devuelve
	// para que el handler la interprete.
	resp, err := newTestClient(srv.URL).QueryBatch(context.Background(), "1", cred)
	require.NoError(t, err)
	assert.Contains(t, resp, "XML Mal Formado.")
}

func TestPostErrorHTTPSinXML(t *testing.T) {
	cred := testCredentials(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "gateway caído")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).QueryBatch(context.Background(), "1", cred)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport), "error sin XML debe clasificarse como transporte")
}
