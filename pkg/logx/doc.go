// Package logx is cronkeep's structured logger, a thin layer over zerolog.
//
// Console lines carry a short caller (file:line); the optional file sink
// writes JSON. Sinks and level are swapped at runtime through Service.Apply,
// and loggers derived from the service pick the change up. A shared Sampler
// caps warnings that a tight loop could otherwise repeat.
package logx
