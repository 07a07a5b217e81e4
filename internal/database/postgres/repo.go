/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// Repository implements persistence.Repository.
type Repository struct {
	q Querier
}

var _ persistence.Repository = (*Repository)(nil)

func NewRepository(q Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) FindWords(ctx context.Context, language string, words []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(words))
	if len(words) == 0 {
		return ids, nil
	}

	query, args, err := builder().
		Select("id", "word").
		From(persistence.TableWords).
		Where(sq.Eq{"language": language, "word": words}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, persistence.TableWords)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			word string
		)
		if err := rows.Scan(&id, &word); err != nil {
			return nil, mapError(err, persistence.TableWords)
		}
		ids[word] = id
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, persistence.TableWords)
	}
	return ids, nil
}

func (r *Repository) InsertWords(ctx context.Context, language string, words []string) (int64, error) {
	if len(words) == 0 {
		return 0, nil
	}
	insert := builder().Insert(persistence.TableWords).Columns("word", "language")
	for _, w := range words {
		insert = insert.Values(w, language)
	}
	return r.exec(ctx, persistence.TableWords, insert.Suffix("ON CONFLICT (word, language) DO NOTHING"))
}

func (r *Repository) InsertTranslations(ctx context.Context, rows []persistence.TranslationRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	insert := builder().Insert(persistence.TableTranslations).Columns("word_id", "category", "translation", "language")
	for _, row := range rows {
		insert = insert.Values(row.WordID, row.Category, row.Translation, row.Language)
	}
	return r.exec(ctx, persistence.TableTranslations,
		insert.Suffix("ON CONFLICT (word_id, category, translation, language) DO NOTHING"))
}

func (r *Repository) InsertSimilarWords(ctx context.Context, rows []persistence.SimilarWordRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	insert := builder().Insert(persistence.TableSimilarWords).Columns("word_id", "similar_word_id")
	for _, row := range rows {
		insert = insert.Values(row.WordID, row.SimilarWordID)
	}
	return r.exec(ctx, persistence.TableSimilarWords, insert.Suffix("ON CONFLICT (word_id, similar_word_id) DO NOTHING"))
}

func (r *Repository) InsertGrammarCategories(ctx context.Context, rows []persistence.GrammarCategoryRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	insert := builder().Insert(persistence.TableGrammarCategories).Columns("word_id", "category")
	for _, row := range rows {
		insert = insert.Values(row.WordID, row.Category)
	}
	return r.exec(ctx, persistence.TableGrammarCategories, insert.Suffix("ON CONFLICT (word_id, category) DO NOTHING"))
}

func (r *Repository) exec(ctx context.Context, table string, insert sq.InsertBuilder) (int64, error) {
	query, args, err := insert.ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, table)
	}
	return tag.RowsAffected(), nil
}
