// Package domain contiene los tipos de dominio del operador Hedge.
//
// Incluye:
//   - Acciones de trading (Action) y su máquina de estados
//   - Posiciones (Position) con derivación de lado desde volumen firmado
//   - Eventos de terminal y alertas procesadas (union etiquetada)
//   - Codec del protocolo wire operador ↔ terminal (JSON line/frame)
//   - Errores de dominio con códigos estándar
//
// Este paquete no tiene dependencias de infraestructura: solo tipos,
// validaciones y transformaciones puras.
package domain
