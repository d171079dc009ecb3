package query

// ---------- Tipos de paginación / ordenamiento ----------

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Page convierte página (desde 1) y tamaño en un OffsetPagination acotado.
func Page(page, limit, maxLimit int) OffsetPagination {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	if page < 1 {
		page = 1
	}
	return OffsetPagination{Limit: limit, Offset: (page - 1) * limit}
}

// Sort indica campo y dirección.
type Sort struct {
	Field string // ej. "created_at", "status"
	Desc  bool
}
