// Package domain defines the core types shared by every stage of the
// sanitization pipeline.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Detectors produce Entity values, the fusion and risk
// stages consume them, and the pipeline assembles a SanitizeResult. The
// AuditRecord type deliberately has no field able to carry entity values,
// spans or source text.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
