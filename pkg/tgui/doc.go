// Package tgui provides small Telegram UI helpers:
//   - Inline and reply keyboard builders
//   - Callback data helpers (scope:action:payload)
//   - HTML escaping for ParseMode="HTML" and a plain-text fallback
package tgui
