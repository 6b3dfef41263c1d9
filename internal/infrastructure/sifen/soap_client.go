// Cliente SOAP 1.2 de los web services de SIFEN con mTLS por documento.
// SIFEN puede responder 400 con un XML de negocio en el cuerpo: esa respuesta
// se devuelve al llamador para interpretarla; solo el error sin XML es fallo
// de transporte.

package sifen

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/config"
	"github.com/facturapy/sifen-worker/pkg/logger"
	pkgsifen "github.com/facturapy/sifen-worker/pkg/sifen"
)

const soapContentType = "application/soap+xml;charset=UTF-8"

// Client habla con los tres web services del ciclo de vida: recepción de
// lote, consulta de lote y recepción de eventos.
type Client struct {
	cfg config.SIFENConfig
	log *logger.Logger
	now func() time.Time
}

// NewClient construye el cliente con las URLs configuradas.
func NewClient(cfg config.SIFENConfig, log *logger.Logger) *Client {
	return &Client{cfg: cfg, log: log, now: time.Now}
}

// SubmitBatch comprime el lote (zip+base64), lo envía a siRecibeLote y
// devuelve la respuesta SOAP cruda.
func (c *Client) SubmitBatch(ctx context.Context, batchXML string, cred entity.Credentials) (string, error) {
	payloadB64, err := BuildBatchPayload(batchXML)
	if err != nil {
		return "", fmt.Errorf("%w: preparar payload: %v", domain.ErrTransport, err)
	}
	var sb strings.Builder
	sb.WriteString(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" `)
	sb.WriteString(`xmlns:xsd="http://ekuatia.set.gov.py/sifen/xsd">`)
	sb.WriteString(`<soap:Header/><soap:Body>`)
	sb.WriteString(`<xsd:rEnvioLote>`)
	sb.WriteString(`<xsd:dId>` + c.requestID() + `</xsd:dId>`)
	sb.WriteString(`<xsd:xDE>` + payloadB64 + `</xsd:xDE>`)
	sb.WriteString(`</xsd:rEnvioLote>`)
	sb.WriteString(`</soap:Body></soap:Envelope>`)
	return c.post(ctx, c.cfg.URLRecibeLote, sb.String(), cred)
}

// QueryBatch consulta el estado de un lote por su protocolo (dProtConsLote).
func (c *Client) QueryBatch(ctx context.Context, protocol string, cred entity.Credentials) (string, error) {
	var sb strings.Builder
	sb.WriteString(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" `)
	sb.WriteString(`xmlns:xsd="http://ekuatia.set.gov.py/sifen/xsd">`)
	sb.WriteString(`<soap:Header/><soap:Body>`)
	sb.WriteString(`<xsd:rEnviConsLoteDe>`)
	sb.WriteString(`<xsd:dId>` + c.requestID() + `</xsd:dId>`)
	sb.WriteString(`<xsd:dProtConsLote>` + protocol + `</xsd:dProtConsLote>`)
	sb.WriteString(`</xsd:rEnviConsLoteDe>`)
	sb.WriteString(`</soap:Body></soap:Envelope>`)
	return c.post(ctx, c.cfg.URLConsultaLote, sb.String(), cred)
}

// SubmitEvent envía un evento firmado (gGroupGesEve) a siRecepEvento. El
// evento se incrusta dentro de dEvReg con el namespace SIFEN por defecto en
// rEnviEventoDe, tal como exige el WSDL.
func (c *Client) SubmitEvent(ctx context.Context, eventXML string, cred entity.Credentials) (string, error) {
	clean := pkgsifen.StripDeclaration(eventXML)
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	sb.WriteString(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">`)
	sb.WriteString(`<env:Body>`)
	sb.WriteString(`<rEnviEventoDe xmlns="http://ekuatia.set.gov.py/sifen/xsd" `)
	sb.WriteString(`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`)
	sb.WriteString(`<dId>` + c.requestID() + `</dId>`)
	sb.WriteString(`<dEvReg>` + clean + `</dEvReg>`)
	sb.WriteString(`</rEnviEventoDe>`)
	sb.WriteString(`</env:Body></env:Envelope>`)
	return c.post(ctx, c.cfg.URLEvento, sb.String(), cred)
}

// post hace el POST SOAP con el certificado del documento como identidad
// mTLS. El material vive solo en memoria.
func (c *Client) post(ctx context.Context, url, envelope string, cred entity.Credentials) (string, error) {
	cert, err := LoadCertificate(cred.CertPath, cred.CertPassword)
	if err != nil {
		return "", err
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("%w: armar request: %v", domain.ErrTransport, err)
	}
	req.Header.Set("Content-Type", soapContentType)

	c.log.Info().Str("url", url).Msg("enviando a SIFEN")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: POST %s: %v", domain.ErrTransport, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: leer respuesta de %s: %v", domain.ErrTransport, url, err)
	}
	text := string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if looksLikeXML(text) {
			// 400 con XML de negocio: el handler decide qué hacer.
			c.log.Warn().Int("status", resp.StatusCode).Str("url", url).
				Msg("SIFEN devolvió error HTTP pero con XML válido; se procesa la respuesta")
			return text, nil
		}
		c.log.Error().Int("status", resp.StatusCode).Str("url", url).
			Str("body", truncate(text, 500)).
			Msg("error en la requisición a SIFEN")
		return "", fmt.Errorf("%w: %s devolvió status %d sin XML", domain.ErrTransport, url, resp.StatusCode)
	}
	return text, nil
}

// requestID genera el dId de la requisición (epoch en milisegundos).
func (c *Client) requestID() string {
	return fmt.Sprintf("%d", c.now().UnixMilli())
}

// looksLikeXML detecta si el cuerpo trae un documento o sobre XML.
func looksLikeXML(body string) bool {
	if body == "" {
		return false
	}
	for _, marker := range []string{"<?xml", "<env:Envelope", "<soap:Envelope", "<Envelope"} {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
