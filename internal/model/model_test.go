package model

import (
	"encoding/json"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"Admin":    RoleAdmin,
		"teacher":  RoleTeacher,
		" PARENT ": RoleParent,
		"student":  RoleStudent,
	}
	for input, expect := range cases {
		role, err := ParseRole(input)
		require.NoError(t, err, input)
		assert.Equal(t, expect, role)
	}

	_, err := ParseRole("janitor")
	assert.True(t, errors.Is(err, errors.BadRequest))
	assert.False(t, Role("root").Valid())
}

func TestDecodeStudentProfile(t *testing.T) {
	raw := json.RawMessage(`{"student_id":"S1","admission_number":"ADM1","admission_date":"2024-01-01",
		"first_name":"A","last_name":"B","date_of_birth":"2010-01-01","gender":"Male","parent_id":4}`)

	profile, err := DecodeProfile(RoleStudent, raw)
	require.NoError(t, err)

	student, ok := profile.(*StudentProfile)
	require.True(t, ok)
	assert.Equal(t, RoleStudent, student.Role())
	assert.Equal(t, "S1", student.StudentID)
	assert.Equal(t, "2024-01-01", student.AdmissionDate.String())
	assert.Equal(t, "2010-01-01", student.DateOfBirth.String())
	require.NotNil(t, student.ParentID)
	assert.Equal(t, int64(4), *student.ParentID)
}

func TestDecodeStudentProfileDefaultsStudentID(t *testing.T) {
	raw := json.RawMessage(`{"admission_number":" ADM9 ","admission_date":"2024-09-01","first_name":"A","last_name":"B"}`)
	profile, err := DecodeProfile(RoleStudent, raw)
	require.NoError(t, err)
	assert.Equal(t, "ADM9", profile.(*StudentProfile).StudentID)
}

func TestDecodeProfileRejectsMissingFields(t *testing.T) {
	_, err := DecodeProfile(RoleStudent, json.RawMessage(`{"first_name":"A","last_name":"B"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.BadRequest))
	assert.Contains(t, err.Error(), "admission_number")
	assert.Contains(t, err.Error(), "admission_date")

	_, err = DecodeProfile(RoleTeacher, json.RawMessage(`{"first_name":"T"}`))
	assert.True(t, errors.Is(err, errors.BadRequest))
	assert.Contains(t, err.Error(), "employee_id")

	_, err = DecodeProfile(RoleParent, json.RawMessage(`{"first_name":"P","last_name":"Q"}`))
	assert.True(t, errors.Is(err, errors.BadRequest))
	assert.Contains(t, err.Error(), "phone")
}

func TestDecodeProfileRejectsBadInput(t *testing.T) {
	_, err := DecodeProfile(RoleTeacher, nil)
	assert.True(t, errors.Is(err, errors.BadRequest))

	_, err = DecodeProfile(RoleStudent, json.RawMessage(`{"admission_number":"A","admission_date":"01/02/2024","first_name":"A","last_name":"B"}`))
	assert.True(t, errors.Is(err, errors.BadRequest))

	_, err = DecodeProfile(RoleParent, json.RawMessage(`{"first_name":"P","last_name":"Q","phone":"1","shoe_size":44}`))
	assert.True(t, errors.Is(err, errors.BadRequest))

	_, err = DecodeProfile(RoleStudent, json.RawMessage(`{"admission_number":"A","admission_date":"2024-01-01","first_name":"A","last_name":"B","gender":"robot"}`))
	assert.True(t, errors.Is(err, errors.BadRequest))

	_, err = DecodeProfile(Role("Janitor"), json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, errors.BadRequest))
}

func TestDecodeAdminProfileIsNil(t *testing.T) {
	profile, err := DecodeProfile(RoleAdmin, json.RawMessage(`{"anything":true}`))
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestDateJSON(t *testing.T) {
	var payload struct {
		When Date `json:"when"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"when":"2024-02-29"}`), &payload))
	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"when":"2024-02-29"}`, string(out))

	var empty struct {
		When Date `json:"when"`
	}
	out, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"when":null}`, string(out))

	value, err := payload.When.DateValue()
	require.NoError(t, err)
	assert.True(t, value.Valid)

	var scanned Date
	require.NoError(t, scanned.ScanDate(value))
	assert.Equal(t, "2024-02-29", scanned.String())
}
