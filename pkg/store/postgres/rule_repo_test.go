/*
Copyright 2026 The FiskAI Authors.

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

package postgres_test

import (
	"context"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/domain"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/errs"
	"github.com/Wandeon/FiskAI-App-sub004/pkg/store/postgres"
)

var _ = Describe("BR-STORE-002: RuleRepository status transitions", func() {
	It("commits a legal DRAFT -> APPROVED transition under a row lock", func() {
		db, mock := newMockDB()
		defer db.Close()
		repo := postgres.NewRuleRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM rules WHERE id = \$1 FOR UPDATE`).
			WithArgs("rule-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("DRAFT"))
		mock.ExpectExec(`UPDATE rules SET status = \$1, status_changed_at = now\(\) WHERE id = \$2`).
			WithArgs("APPROVED", "rule-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		Expect(repo.Transition(context.Background(), "rule-1", domain.RuleApproved, nil, false)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("records the approver when one is supplied", func() {
		db, mock := newMockDB()
		defer db.Close()
		repo := postgres.NewRuleRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM rules WHERE id = \$1 FOR UPDATE`).
			WithArgs("rule-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("DRAFT"))
		mock.ExpectExec(`UPDATE rules SET status = \$1, approved_by = \$2, status_changed_at = now\(\) WHERE id = \$3`).
			WithArgs("APPROVED", "reviewer@fiskai.local", "rule-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		approver := "reviewer@fiskai.local"
		Expect(repo.Transition(context.Background(), "rule-1", domain.RuleApproved, &approver, false)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("rejects PUBLISHED -> APPROVED without the rollback bypass and never writes", func() {
		db, mock := newMockDB()
		defer db.Close()
		repo := postgres.NewRuleRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM rules WHERE id = \$1 FOR UPDATE`).
			WithArgs("rule-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PUBLISHED"))
		mock.ExpectRollback()

		err := repo.Transition(context.Background(), "rule-1", domain.RuleApproved, nil, false)
		Expect(err).To(HaveOccurred())
		Expect(errs.CodeOf(err)).To(Equal(errs.ValidationError))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("allows PUBLISHED -> APPROVED with the rollback bypass", func() {
		db, mock := newMockDB()
		defer db.Close()
		repo := postgres.NewRuleRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM rules WHERE id = \$1 FOR UPDATE`).
			WithArgs("rule-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PUBLISHED"))
		mock.ExpectExec(`UPDATE rules SET status = \$1, status_changed_at = now\(\) WHERE id = \$2`).
			WithArgs("APPROVED", "rule-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		Expect(repo.Transition(context.Background(), "rule-1", domain.RuleApproved, nil, true)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("returns NOT_FOUND for a transition on a missing rule", func() {
		db, mock := newMockDB()
		defer db.Close()
		repo := postgres.NewRuleRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status FROM rules WHERE id = \$1 FOR UPDATE`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		mock.ExpectRollback()

		err := repo.Transition(context.Background(), "missing", domain.RuleApproved, nil, false)
		Expect(err).To(HaveOccurred())
		Expect(errs.CodeOf(err)).To(Equal(errs.NotFound))
	})
})
