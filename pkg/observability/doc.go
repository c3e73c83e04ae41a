// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("assignment_id", id).Info("Assignment created")
//
// Request-scoped logging picks up request, actor and trace ids:
//
//	observability.FromContext(ctx).WithError(err).Error("Notification failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordTransition("confirm", err)
//	http.Handle("/metrics", metrics.Handler())
//
// Every Record* helper is a no-op on a nil *Metrics so libraries can run without metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{...}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
//	ctx, span := observability.StartSpan(ctx, "assignments.Confirm")
//	defer func() { observability.EndSpan(span, err) }()
package observability
