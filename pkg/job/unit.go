package job

// Unit is the neutral result type for effect-only jobs: ForEach-style
// traversals register a Job[[]T, Unit] and discard the reduction. It is a
// numeric type rather than an empty struct because gob refuses to encode
// values with no fields.
type Unit uint8
