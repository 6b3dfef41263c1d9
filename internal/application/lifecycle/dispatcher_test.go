package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

// ── stubs ─────────────────────────────────────────────────────────────────────

type stubStore struct {
	emission *entity.Emission
	document *entity.Document
	getErr   error

	emissionUpdates []entity.EmissionUpdate
	docCodes        []*int
	docDescs        []*string
	updateErr       error
}

func (s *stubStore) GetEmission(_ context.Context, _ entity.FiscalDocumentID) (*entity.Emission, error) {
	return s.emission, s.getErr
}

func (s *stubStore) GetDocument(_ context.Context, _ entity.FiscalDocumentID) (*entity.Document, error) {
	return s.document, s.getErr
}

func (s *stubStore) UpdateEmission(_ context.Context, _ entity.FiscalDocumentID, upd entity.EmissionUpdate) error {
	s.emissionUpdates = append(s.emissionUpdates, upd)
	return s.updateErr
}

func (s *stubStore) UpdateDocument(_ context.Context, _ entity.FiscalDocumentID, code *int, desc *string) error {
	s.docCodes = append(s.docCodes, code)
	s.docDescs = append(s.docDescs, desc)
	return s.updateErr
}

type stubSifen struct {
	submitResp, queryResp, eventResp string
	submitErr, queryErr, eventErr    error

	lastBatchXML, lastProtocol, lastEvent string
}

func (s *stubSifen) SubmitBatch(_ context.Context, batchXML string, _ entity.Credentials) (string, error) {
	s.lastBatchXML = batchXML
	return s.submitResp, s.submitErr
}

func (s *stubSifen) QueryBatch(_ context.Context, protocol string, _ entity.Credentials) (string, error) {
	s.lastProtocol = protocol
	return s.queryResp, s.queryErr
}

func (s *stubSifen) SubmitEvent(_ context.Context, eventXML string, _ entity.Credentials) (string, error) {
	s.lastEvent = eventXML
	return s.eventResp, s.eventErr
}

type stubSigner struct {
	signed  string
	err     error
	lastXML string
}

func (s *stubSigner) SignAndEmbedQR(xmlOriginal string, _ entity.Credentials) (string, error) {
	s.lastXML = xmlOriginal
	return s.signed, s.err
}

type stubEvents struct {
	event               string
	err                 error
	lastCDC, lastReason string
}

func (s *stubEvents) BuildCancelEvent(cdc, reason string, _ entity.Credentials) (string, error) {
	s.lastCDC, s.lastReason = cdc, reason
	return s.event, s.err
}

type stubScheduler struct {
	attempts []int
	err      error
}

func (s *stubScheduler) SchedulePoll(_ context.Context, _ entity.FiscalDocumentID, attempts int) error {
	s.attempts = append(s.attempts, attempts)
	return s.err
}

// ── fixtures ──────────────────────────────────────────────────────────────────

const testCDC = "01800123456010010000001234520260801123456789"

func sampleEmission() *entity.Emission {
	return &entity.Emission{
		ID:          1,
		DocfisID:    42,
		XMLOriginal: `<rDE><DE Id="` + testCDC + `"/></rDE>`,
		XMLSigned:   `<rLoteDE><rDE><DE Id="` + testCDC + `"/></rDE></rLoteDE>`,
		Protocol:    "7777",
		CertPath:    "/certs/empresa.p12",
		CertPass:    "secreto",
		CSC:         "ABCD0000",
		CSCID:       "0001",
	}
}

type fixture struct {
	store     *stubStore
	sifen     *stubSifen
	signer    *stubSigner
	events    *stubEvents
	scheduler *stubScheduler
	d         *Dispatcher
}

func newFixture(maxAttempts int) *fixture {
	f := &fixture{
		store:     &stubStore{emission: sampleEmission(), document: &entity.Document{ID: 42}},
		sifen:     &stubSifen{},
		signer:    &stubSigner{},
		events:    &stubEvents{},
		scheduler: &stubScheduler{},
	}
	f.d = NewDispatcher(f.store, f.sifen, f.signer, f.events, f.scheduler, maxAttempts, logger.Nop())
	return f
}

// ── despacho ──────────────────────────────────────────────────────────────────

func TestHandleJSONInvalido(t *testing.T) {
	f := newFixture(10)
	assert.Equal(t, OutcomeReject, f.d.Handle(context.Background(), []byte("no es json")))
}

func TestHandleSinID(t *testing.T) {
	f := newFixture(10)
	outcome := f.d.Handle(context.Background(), []byte(`{"acao":"enviar"}`))
	assert.Equal(t, OutcomeAck, outcome, "mensaje sin id se descarta con ack")
	assert.Empty(t, f.store.emissionUpdates)
}

func TestHandleSinFilasEnLaBase(t *testing.T) {
	f := newFixture(10)
	f.store.emission = nil
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	assert.Equal(t, OutcomeAck, outcome, "sin datos en la base, reentregar no arregla nada")
	assert.Empty(t, f.signer.lastXML, "no debe intentarse la firma")
}

func TestHandleErrorDeBase(t *testing.T) {
	f := newFixture(10)
	f.store.getErr = errors.New("ORA-12541: no listener")
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	assert.Equal(t, OutcomeReject, outcome, "falla operativa produce nack")
}

func TestHandleAccionDesconocida(t *testing.T) {
	f := newFixture(10)
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"reprocesar"}`))
	assert.Equal(t, OutcomeAck, outcome)
	assert.Empty(t, f.store.emissionUpdates)
	assert.Empty(t, f.scheduler.attempts)
}

// ── enviar ────────────────────────────────────────────────────────────────────

func TestEnviarExitoso(t *testing.T) {
	f := newFixture(10)
	f.signer.signed = `<?xml version="1.0" encoding="UTF-8"?><rDE><DE Id="` + testCDC + `"/><Signature/></rDE>`
	f.sifen.submitResp = `<Envelope><dProtConsLote>12345</dProtConsLote></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	require.Equal(t, OutcomeAck, outcome)

	// El lote viaja envuelto en rLoteDE y sin declaración XML.
	assert.Equal(t, `<rLoteDE><rDE><DE Id="`+testCDC+`"/><Signature/></rDE></rLoteDE>`, f.sifen.lastBatchXML)

	require.Len(t, f.store.emissionUpdates, 1)
	upd := f.store.emissionUpdates[0]
	require.NotNil(t, upd.Protocol)
	assert.Equal(t, "12345", *upd.Protocol)
	assert.Equal(t, "900", *upd.StatusCode)
	assert.Equal(t, "Lote recebido. Aguardando consulta de status.", *upd.StatusDesc)
	assert.Equal(t, f.sifen.lastBatchXML, *upd.XMLSigned)

	require.Len(t, f.store.docCodes, 1)
	assert.Equal(t, 900, *f.store.docCodes[0])

	assert.Equal(t, []int{1}, f.scheduler.attempts, "la primera consulta se agenda con tentativa 1")
}

func TestEnviarRechazadoPorSIFEN(t *testing.T) {
	f := newFixture(10)
	f.signer.signed = `<rDE><DE Id="` + testCDC + `"/></rDE>`
	f.sifen.submitResp = `<Envelope><dCodRes>0160</dCodRes><dMsgRes>Firma invalida</dMsgRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	require.Equal(t, OutcomeAck, outcome, "rechazo de negocio se persiste y se confirma")

	require.Len(t, f.store.emissionUpdates, 1)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "0160", *upd.StatusCode)
	assert.Equal(t, "Falha no envio: Firma invalida", *upd.StatusDesc)
	assert.Nil(t, upd.Protocol, "sin protocolo no hay nada que guardar en protocolo")

	assert.Empty(t, f.scheduler.attempts, "un envío fallido no agenda consulta")
}

func TestEnviarProtocoloCero(t *testing.T) {
	f := newFixture(10)
	f.signer.signed = `<rDE><DE Id="` + testCDC + `"/></rDE>`
	// Protocolo "0" equivale a ausente; sin dMsgRes ni dCodRes aplican los defaults.
	f.sifen.submitResp = `<Envelope><dProtConsLote>0</dProtConsLote></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	require.Equal(t, OutcomeAck, outcome)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "999", *upd.StatusCode)
	assert.Equal(t, "Falha no envio: Erro não especificado", *upd.StatusDesc)
}

func TestEnviarErrorDeFirma(t *testing.T) {
	f := newFixture(10)
	f.signer.err = errors.New("p12 corrupto")
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	assert.Equal(t, OutcomeReject, outcome)
	assert.Empty(t, f.store.emissionUpdates)
}

func TestEnviarErrorDeTransporte(t *testing.T) {
	f := newFixture(10)
	f.signer.signed = `<rDE><DE Id="` + testCDC + `"/></rDE>`
	f.sifen.submitErr = errors.New("timeout")
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"enviar"}`))
	assert.Equal(t, OutcomeReject, outcome)
}

// ── consultar ─────────────────────────────────────────────────────────────────

func TestConsultarAprobado(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dEstRes>Aprobado</dEstRes><dCodRes>0260</dCodRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar","tentativas":2}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, "7777", f.sifen.lastProtocol, "se consulta por el protocolo persistido")

	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "0260", *upd.StatusCode)
	assert.Equal(t, "Aprobado exitosamente.", *upd.StatusDesc)
	assert.Equal(t, 260, *f.store.docCodes[0])
	assert.Empty(t, f.scheduler.attempts)
}

func TestConsultarAprobadoSinCodigo(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dEstRes>Aprobado</dEstRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar"}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, "0201", *f.store.emissionUpdates[0].StatusCode, "sin dCodRes aplica el default de aprobado")
}

func TestConsultarRechazado(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dEstRes>Rechazado</dEstRes><dCodResLot>0301</dCodResLot><dMsgResLot>CDC duplicado</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar"}`))
	require.Equal(t, OutcomeAck, outcome)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "0301", *upd.StatusCode)
	assert.Equal(t, "Rejeitado: CDC duplicado", *upd.StatusDesc)
}

func TestConsultarRechazoPorMensaje(t *testing.T) {
	f := newFixture(10)
	// Sin dEstRes, el rechazo se detecta por el texto del mensaje del lote.
	f.sifen.queryResp = `<Envelope><dMsgResLot>Documento Rechazado por timbrado vencido</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar"}`))
	require.Equal(t, OutcomeAck, outcome)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "0300", *upd.StatusCode, "sin código aplica el default de rechazo")
	assert.Equal(t, "Rejeitado: Documento Rechazado por timbrado vencido", *upd.StatusDesc)
}

func TestConsultarEnProcesoReagenda(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dMsgResLot>Lote en procesamiento</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar","tentativas":3}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, []int{4}, f.scheduler.attempts, "se reagenda incrementando la tentativa")
	assert.Empty(t, f.store.emissionUpdates, "mientras siga en proceso no se persiste nada")
}

func TestConsultarAgotaTentativas(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dMsgResLot>Lote en procesamiento</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar","tentativas":10}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Empty(t, f.scheduler.attempts)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "998", *upd.StatusCode)
	assert.Equal(t, "Excedeu o limite de tentativas de consulta.", *upd.StatusDesc)
}

func TestConsultar0160Transitorio(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dCodRes>0160</dCodRes><dMsgResLot>XML Mal Formado.</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar","tentativas":3}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, []int{4}, f.scheduler.attempts)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "900", *upd.StatusCode, "el 0160 con mensaje exacto se trata como pendiente")
	assert.Equal(t, "Reprocessando consulta", *upd.StatusDesc)
}

func TestConsultar0160AgotaTentativas(t *testing.T) {
	f := newFixture(10)
	f.sifen.queryResp = `<Envelope><dCodRes>0160</dCodRes><dMsgResLot>XML Mal Formado.</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar","tentativas":10}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Empty(t, f.scheduler.attempts)
	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "998", *upd.StatusCode)
	assert.Equal(t, "Excedeu o limite de tentativas de consulta (erro 0160).", *upd.StatusDesc)
}

func TestConsultar0160ConOtroMensajeEsRechazo(t *testing.T) {
	f := newFixture(10)
	// El mismo código con otro mensaje no es el falso negativo: sigue el
	// camino normal y acá se reagenda por estado desconocido.
	f.sifen.queryResp = `<Envelope><dCodRes>0160</dCodRes><dMsgResLot>XML invalido de verdad</dMsgResLot></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar","tentativas":1}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, []int{2}, f.scheduler.attempts)
}

func TestConsultarSinProtocolo(t *testing.T) {
	f := newFixture(10)
	f.store.emission.Protocol = ""
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"consultar"}`))
	assert.Equal(t, OutcomeReject, outcome, "sin protocolo no hay lote que consultar")
}

// ── cancelar ──────────────────────────────────────────────────────────────────

func TestCancelarExitoso(t *testing.T) {
	f := newFixture(10)
	f.events.event = `<gGroupGesEve><rGesEve/></gGroupGesEve>`
	f.sifen.eventResp = `<Envelope><dCodRes>0501</dCodRes><dMsgRes>Evento registrado</dMsgRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"cancelar","motivo":"Duplicado en sistema"}`))
	require.Equal(t, OutcomeAck, outcome)

	assert.Equal(t, testCDC, f.events.lastCDC, "el CDC sale del XML firmado persistido")
	assert.Equal(t, "Duplicado en sistema", f.events.lastReason)

	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "0501", *upd.StatusCode)
	assert.Equal(t, "Cancelado: Evento registrado", *upd.StatusDesc)
	assert.Equal(t, f.events.event, *upd.XMLCancelRequest)
	assert.Equal(t, f.sifen.eventResp, *upd.XMLCancelResponse)

	require.Len(t, f.store.docCodes, 1)
	assert.Equal(t, 600, *f.store.docCodes[0])
	assert.Equal(t, "Nota Cancelada", *f.store.docDescs[0])
}

func TestCancelarExitosoPorEstadoTextual(t *testing.T) {
	f := newFixture(10)
	f.events.event = `<gGroupGesEve/>`
	f.sifen.eventResp = `<Envelope><dCodRes>0000</dCodRes><dEstRes>Aprobado</dEstRes><dMsgRes>OK</dMsgRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"cancelar","motivo":"Duplicado en sistema"}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, "Cancelado: OK", *f.store.emissionUpdates[0].StatusDesc)
	assert.Equal(t, 600, *f.store.docCodes[0])
}

func TestCancelarRechazado(t *testing.T) {
	f := newFixture(10)
	f.events.event = `<gGroupGesEve/>`
	f.sifen.eventResp = `<Envelope><dCodRes>0401</dCodRes><dMsgRes>Evento ya registrado</dMsgRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"cancelar","motivo":"Duplicado en sistema"}`))
	require.Equal(t, OutcomeAck, outcome)

	upd := f.store.emissionUpdates[0]
	assert.Equal(t, "Erro no cancelamento: Evento ya registrado", *upd.StatusDesc)
	assert.Empty(t, f.store.docCodes, "el rechazo del cancelamiento no toca el registro externo")
}

func TestCancelarSinMotivoUsaDefault(t *testing.T) {
	f := newFixture(10)
	f.events.event = `<gGroupGesEve/>`
	f.sifen.eventResp = `<Envelope><dCodRes>0501</dCodRes></Envelope>`

	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"cancelar"}`))
	require.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, DefaultCancelReason, f.events.lastReason)
	assert.Equal(t, "Cancelado: Sem mensagem", *f.store.emissionUpdates[0].StatusDesc)
}

func TestCancelarSinCDC(t *testing.T) {
	f := newFixture(10)
	f.store.emission.XMLSigned = "<rLoteDE></rLoteDE>"
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"cancelar","motivo":"Duplicado en sistema"}`))
	assert.Equal(t, OutcomeReject, outcome, "sin CDC no se puede armar el evento")
	assert.Empty(t, f.sifen.lastEvent)
}

func TestCancelarErrorAlFirmarEvento(t *testing.T) {
	f := newFixture(10)
	f.events.err = errors.New("p12 corrupto")
	outcome := f.d.Handle(context.Background(), []byte(`{"id_fatura":42,"acao":"cancelar","motivo":"Duplicado en sistema"}`))
	assert.Equal(t, OutcomeReject, outcome)
}
