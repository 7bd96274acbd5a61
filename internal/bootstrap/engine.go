// Package bootstrap arma el motor de envío a partir de la configuración. Lo comparten
// el servidor HTTP y sifenctl.
package bootstrap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jhoicas/sifen-gateway/internal/application/billing"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/repository"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/memory"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/postgres"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/redis"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/resilience"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen/signer"
	"github.com/jhoicas/sifen-gateway/pkg/config"
	"github.com/jhoicas/sifen-gateway/pkg/logger"
)

// Engine orquestador listo para usar y los recursos que hay que cerrar al salir.
type Engine struct {
	Orchestrator *billing.SubmissionOrchestrator
	Pool         *pgxpool.Pool // nil con STORAGE=memory
	closers      []func()
}

// Close libera conexiones en orden inverso a su apertura.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// Build conecta almacenamiento, lock, certificado, transporte y coordinador.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Engine, error) {
	e := &Engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	docs, timbrados, err := e.storage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	locks, err := e.locks(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	cert, roots, err := loadCertificate(cfg.SIFEN, log.Component("certificado"))
	if err != nil {
		return nil, err
	}
	revoked := map[string]struct{}{}
	if cfg.SIFEN.RevocationPath != "" {
		if revoked, err = signer.LoadRevocationList(cfg.SIFEN.RevocationPath); err != nil {
			return nil, fmt.Errorf("lista de revocación: %w", err)
		}
	}

	transport := sifen.NewSOAPClient(sifen.TransportConfig{
		Endpoints: sifen.Endpoints{
			Submit: cfg.SIFEN.SubmitURL,
			Batch:  cfg.SIFEN.BatchURL,
			Query:  cfg.SIFEN.QueryURL,
		},
		ConnectTimeout:    cfg.SIFEN.ConnectTimeout,
		ReadTimeout:       cfg.SIFEN.ReadTimeout,
		TotalTimeout:      cfg.SIFEN.TotalTimeout,
		MaxDocumentBytes:  cfg.SIFEN.MaxDocumentBytes,
		MaxBatchBytes:     cfg.SIFEN.MaxBatchBytes,
		MaxBatchDocuments: cfg.SIFEN.MaxBatchDocuments,
		MinTLSVersion:     cfg.SIFEN.MinTLSVersion,
		ClientCertificate: clientCertificate(cert),
		RootCAs:           roots,
	})

	coord := resilience.NewCoordinator(resilience.Config{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
		Breaker: resilience.BreakerConfig{
			Threshold:   cfg.Resilience.BreakerThreshold,
			Cooldown:    cfg.Resilience.BreakerCooldown,
			MaxCooldown: cfg.Resilience.BreakerMaxCooldown,
		},
	}, log.Component("coordinador"),
		resilience.WithLimiter(resilience.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)),
	)

	e.Orchestrator = billing.NewSubmissionOrchestrator(billing.Dependencies{
		Documents: docs,
		Timbrados: timbrados,
		Renderer: sifen.NewXMLBuilderService(sifen.BuilderOptions{
			IssuerTaxpayerType: cfg.SIFEN.IssuerTaxpayerType,
			QR: sifen.QRConfig{
				BaseURL: cfg.SIFEN.QRBaseURL,
				CSCID:   cfg.SIFEN.CSCID,
				CSC:     cfg.SIFEN.CSC,
			},
		}),
		Validator: sifen.NewSchemaValidator(),
		Signer: signer.NewDigitalSignatureService(signer.Config{
			Roots:          roots,
			RevokedSerials: revoked,
		}),
		Transport:   transport,
		Coordinator: coord,
		Classifier:  sifen.NewResponseClassifier(),
		Locks:       locks,
	}, billing.Config{
		Certificate: cert,
		Lateness: domainsifen.LatenessPolicy{
			MaxLateness:     cfg.Lateness.MaxLateness,
			ExcludeWeekends: cfg.Lateness.ExcludeWeekends,
			Holidays:        cfg.Lateness.Holidays,
		},
		MaxBatchDocuments: cfg.SIFEN.MaxBatchDocuments,
		ResumeConcurrency: cfg.Monitor.ReplayConcurrency,
	}, log.Component("orquestador"))

	ok = true
	return e, nil
}

func (e *Engine) storage(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.DocumentRepository, repository.TimbradoRepository, error) {
	switch strings.ToLower(cfg.App.Storage) {
	case "memory":
		log.Warn().Msg("almacenamiento en memoria: los documentos se pierden al reiniciar")
		windows, err := loadTimbradoSeed(cfg.App.TimbradoSeed)
		if err != nil {
			return nil, nil, err
		}
		return memory.NewDocumentRepository(), memory.NewTimbradoRepository(windows...), nil
	case "postgres", "":
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		e.Pool = pool
		e.closers = append(e.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("migración: %w", err)
		}
		return postgres.NewDocumentRepository(pool), postgres.NewTimbradoRepository(pool), nil
	default:
		return nil, nil, fmt.Errorf("STORAGE %q inválido (postgres|memory)", cfg.App.Storage)
	}
}

func (e *Engine) locks(ctx context.Context, cfg *config.Config, log *logger.Logger) (billing.InflightLock, error) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("sin REDIS_ADDR: lock de envío local al proceso")
		return memory.NewInflightLock(), nil
	}
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("conexión a Redis: %w", err)
	}
	e.closers = append(e.closers, func() { _ = client.Close() })
	return redis.NewInflightLock(client, cfg.Redis.LockTTL, log.Component("lock")), nil
}

// loadCertificate .p12/.pfx con contraseña o par PEM. Sin certificado el motor arranca igual:
// la firma falla con SigningInvalidMaterial y el documento queda en VALIDATED.
func loadCertificate(cfg config.SIFENConfig, log zerolog.Logger) (tls.Certificate, *x509.CertPool, error) {
	var roots *x509.CertPool
	if cfg.RootsPath != "" {
		var err error
		if roots, err = signer.LoadRoots(cfg.RootsPath); err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("raíces de confianza: %w", err)
		}
	}
	if cfg.CertPath == "" {
		log.Warn().Msg("sin SIFEN_CERT_PATH: no se podrá firmar")
		return tls.Certificate{}, roots, nil
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch strings.ToLower(filepath.Ext(cfg.CertPath)) {
	case ".p12", ".pfx":
		cert, err = signer.LoadFromP12(cfg.CertPath, cfg.CertPassword)
	default:
		cert, err = signer.LoadFromPEM(cfg.CertPath, cfg.CertKeyPath)
	}
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("certificado %s: %w", cfg.CertPath, err)
	}
	if cert.Leaf != nil {
		log.Info().
			Str("subject", cert.Leaf.Subject.CommonName).
			Time("not_after", cert.Leaf.NotAfter).
			Msg("certificado cargado")
	}
	return cert, roots, nil
}

// loadTimbradoSeed lee un arreglo JSON de timbrados. Ruta vacía: ninguno.
func loadTimbradoSeed(path string) ([]entity.TimbradoWindow, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("timbrados: %w", err)
	}
	var windows []entity.TimbradoWindow
	if err := json.Unmarshal(data, &windows); err != nil {
		return nil, fmt.Errorf("timbrados %s: %w", path, err)
	}
	return windows, nil
}

func clientCertificate(cert tls.Certificate) *tls.Certificate {
	if len(cert.Certificate) == 0 {
		return nil
	}
	return &cert
}
